package task

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager tracks tasks in memory, persists their status and runs them on a
// bounded pool.
type Manager struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	tokens    map[string]*CancelToken
	semaphore chan struct{}
	runner    Runner
	workersWG sync.WaitGroup
	baseCtx   context.Context
	store     TaskStore
	bus       *Bus
	now       func() time.Time
}

// NewManager creates a manager with default options suitable for tests
func NewManager() *Manager {
	return NewManagerWithOptions(Options{
		DataDir:            "data",
		MaxConcurrentTasks: defaultMaxConcurrent,
	})
}

// NewManagerWithOptions creates a manager with provided configuration
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrent
	}
	return &Manager{
		tasks:     make(map[string]*Task),
		tokens:    make(map[string]*CancelToken),
		semaphore: make(chan struct{}, opts.MaxConcurrentTasks),
		runner:    opts.Runner,
		baseCtx:   context.Background(),
		store:     NewFileStore(opts.DataDir),
		bus:       NewBus(opts.EventBuffer),
		now:       time.Now,
	}
}

// IsBusy reports whether every worker slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// Submit records a pending task and schedules it.
func (m *Manager) Submit(reference, collectionKey, collectionName string) (Task, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Task{}, ErrEmptyReference
	}
	now := m.now()
	t := &Task{
		ID:             uuid.NewString(),
		Reference:      reference,
		CollectionKey:  collectionKey,
		CollectionName: collectionName,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	token := NewCancelToken()

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.tokens[t.ID] = token
	m.persistLocked(t)
	snapshot := *t
	m.mu.Unlock()

	log.Info().Str("task_id", t.ID).Str("reference", reference).Str("collection", collectionKey).Msg("task submitted")
	m.bus.Publish(Event{TaskID: t.ID, Kind: EventStatus, Status: StatusPending})
	m.schedule(t.ID, token)
	return snapshot, nil
}

// Retry resets a failed or cancelled task and schedules it again.
func (m *Manager) Retry(taskID string) (Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return Task{}, ErrTaskNotFound
	}
	if t.Status != StatusFailed && t.Status != StatusCancelled {
		m.mu.Unlock()
		return Task{}, ErrNotRetryable
	}
	t.Status = StatusPending
	t.Stage = StageNone
	t.Title = ""
	t.Error = ""
	t.FilePath = ""
	t.ItemKey = ""
	t.UpdatedAt = m.now()
	token := NewCancelToken()
	m.tokens[taskID] = token
	m.persistLocked(t)
	snapshot := *t
	m.mu.Unlock()

	log.Info().Str("task_id", taskID).Msg("task resubmitted")
	m.bus.Publish(Event{TaskID: taskID, Kind: EventStatus, Status: StatusPending})
	m.schedule(taskID, token)
	return snapshot, nil
}

// Get returns a copy of the task.
func (m *Manager) Get(taskID string) (Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns copies of all tasks, oldest first.
func (m *Manager) List() []Task {
	m.mu.RLock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Cancel asks the task's run to stop at its next stage boundary. The task
// stays tracked and ends up cancelled.
func (m *Manager) Cancel(taskID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return nil
	}
	if token, ok := m.tokens[taskID]; ok {
		token.Cancel()
		log.Info().Str("task_id", taskID).Msg("cancellation requested")
	}
	return nil
}

// Delete cancels the task's run, if any, and forgets it.
func (m *Manager) Delete(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	m.removeLocked(taskID)
	return nil
}

// Clear cancels and forgets every task. It returns how many were removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.tasks)
	for id := range m.tasks {
		m.removeLocked(id)
	}
	return n
}

func (m *Manager) removeLocked(taskID string) {
	if token, ok := m.tokens[taskID]; ok {
		token.Cancel()
	}
	delete(m.tokens, taskID)
	delete(m.tasks, taskID)
	if err := m.store.DeleteTask(context.Background(), taskID); err != nil {
		log.Warn().Str("task_id", taskID).Err(err).Msg("delete task status failed")
	}
	log.Info().Str("task_id", taskID).Msg("task removed")
	m.bus.Publish(Event{TaskID: taskID, Kind: EventStatus, Message: "removed"})
}

// Subscribe streams task events until the returned function is called.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.bus.Subscribe()
}

// SetBaseContext sets the context that bounds blocking pipeline calls.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight task workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseRunner replaces the pipeline.
// Not safe for concurrent mutation with running tasks; intended for setup only.
func (m *Manager) UseRunner(r Runner) {
	m.mu.Lock()
	m.runner = r
	m.mu.Unlock()
}

// update applies fn to a tracked task and persists it. It reports false when
// the task was removed in the meantime.
func (m *Manager) update(taskID string, fn func(t *Task)) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	fn(t)
	t.UpdatedAt = m.now()
	m.persistLocked(t)
	return *t, true
}

// persistLocked writes task state under data/tasks/<id>/status.json.
// Failures are logged and never fail a run.
func (m *Manager) persistLocked(t *Task) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveTask(context.Background(), t); err != nil {
		log.Warn().Str("task_id", t.ID).Err(err).Msg("persist task failed")
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
