package task

import (
	"context"

	"github.com/rs/zerolog/log"
)

func (m *Manager) schedule(taskID string, token *CancelToken) {
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.process(taskID, token)
	}()
}

// process waits for a worker slot and runs the task. A task cancelled while
// still queued never takes a slot.
func (m *Manager) process(taskID string, token *CancelToken) {
	m.mu.RLock()
	ctx := m.baseCtx
	runner := m.runner
	m.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case m.semaphore <- struct{}{}:
	case <-token.Done():
		m.finish(taskID, token, Result{}, ErrCancelled)
		return
	case <-ctx.Done():
		m.finish(taskID, token, Result{}, ctx.Err())
		return
	}
	defer func() { <-m.semaphore }()

	if _, ok := m.update(taskID, func(t *Task) { t.Status = StatusRunning }); !ok {
		return
	}
	m.bus.Publish(Event{TaskID: taskID, Kind: EventStatus, Status: StatusRunning})
	log.Info().Str("task_id", taskID).Msg("task started")

	if runner == nil {
		m.finish(taskID, token, Result{}, ErrNoRunner)
		return
	}
	snapshot, _ := m.Get(taskID)
	res, err := runner.Run(ctx, Job{
		TaskID:        taskID,
		Reference:     snapshot.Reference,
		CollectionKey: snapshot.CollectionKey,
		Token:         token,
		Report:        &reporter{m: m, taskID: taskID},
	})
	m.finish(taskID, token, res, err)
}

// finish records the terminal state. A run whose token has been replaced by
// a retry, or whose task was removed, leaves no trace.
func (m *Manager) finish(taskID string, token *CancelToken, res Result, err error) {
	var event Event
	_, ok := m.updateOwned(taskID, token, func(t *Task) {
		switch {
		case err == nil:
			t.Status = StatusSucceeded
			t.FilePath = res.FilePath
			t.ItemKey = res.ItemKey
			if res.Title != "" {
				t.Title = res.Title
			}
			event = Event{TaskID: taskID, Kind: EventFinished, Path: res.FilePath, Status: StatusSucceeded}
		case isCancelled(err):
			t.Status = StatusCancelled
			event = Event{TaskID: taskID, Kind: EventStatus, Status: StatusCancelled}
		default:
			t.Status = StatusFailed
			t.Error = err.Error()
			t.Title = errorTitlePrefix + t.Error
			event = Event{TaskID: taskID, Kind: EventError, Message: t.Error, Status: StatusFailed}
		}
	})
	if !ok {
		return
	}
	logger := log.With().Str("task_id", taskID).Logger()
	switch event.Kind {
	case EventFinished:
		logger.Info().Str("path", res.FilePath).Str("item_key", res.ItemKey).Msg("task succeeded")
	case EventError:
		logger.Error().Err(err).Msg("task failed")
	default:
		logger.Info().Msg("task cancelled")
	}
	m.bus.Publish(event)
}

func (m *Manager) updateOwned(taskID string, token *CancelToken, fn func(t *Task)) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || m.tokens[taskID] != token {
		return Task{}, false
	}
	fn(t)
	t.UpdatedAt = m.now()
	m.persistLocked(t)
	return *t, true
}

// reporter turns pipeline callbacks into task updates and events.
type reporter struct {
	m      *Manager
	taskID string
}

func (r *reporter) Progress(stage Stage) {
	if _, ok := r.m.update(r.taskID, func(t *Task) { t.Stage = stage }); ok {
		log.Debug().Str("task_id", r.taskID).Int("stage", int(stage)).Msg(stage.Label())
		r.m.bus.Publish(Event{TaskID: r.taskID, Kind: EventProgress, Stage: stage})
	}
}

func (r *reporter) Title(title string) {
	if _, ok := r.m.update(r.taskID, func(t *Task) { t.Title = title }); ok {
		r.m.bus.Publish(Event{TaskID: r.taskID, Kind: EventTitle, Title: title})
	}
}

func (r *reporter) Resolved(url string) {
	r.m.update(r.taskID, func(t *Task) { t.ResolvedURL = url })
}
