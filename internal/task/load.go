package task

import (
	"context"
	"fmt"
)

// LoadFromDisk loads persisted tasks into memory. Tasks that were pending or
// running when the previous process stopped are marked failed.
func (m *Manager) LoadFromDisk() error {
	if m.store == nil {
		return nil
	}
	loadedTasks, err := m.store.LoadTasks(context.Background())
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range loadedTasks {
		if !t.Status.Terminal() {
			t.Status = StatusFailed
			t.Error = restartMessage
			t.Title = errorTitlePrefix + restartMessage
			m.persistLocked(t)
		}
		m.tasks[t.ID] = t
	}
	return nil
}
