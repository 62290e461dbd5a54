package local

import "sync"

var _ Storage = &MemoryStorage{}

// MemoryStorage is a process-local Storage, used in tests and when no
// state directory is configured.
type MemoryStorage struct {
	lock  sync.RWMutex
	slots map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		slots: make(map[string]string),
	}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	value, ok := m.slots[key]
	return value, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.slots[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.slots, key)
	return nil
}
