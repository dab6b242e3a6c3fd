package config

import "sync"

// CollectionMemory holds the last-used collection and writes changes back to
// the config file.
type CollectionMemory struct {
	mu   sync.Mutex
	path string
	key  string
	name string
}

func NewCollectionMemory(path string, cfg Config) *CollectionMemory {
	return &CollectionMemory{path: path, key: cfg.LastUsedCollectionKey, name: cfg.LastUsedCollectionName}
}

func (m *CollectionMemory) Last() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key, m.name
}

func (m *CollectionMemory) Remember(key, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := SaveLastCollection(m.path, key, name); err != nil {
		return err
	}
	m.key, m.name = key, name
	return nil
}
