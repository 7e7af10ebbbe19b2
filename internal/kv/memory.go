package kv

import "sync"

// Memory is a process-local Client.
type Memory struct {
	mu     sync.RWMutex
	hashes map[string]map[string][]byte
}

var _ Client = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		hashes: make(map[string]map[string][]byte),
	}
}

func (m *Memory) HGet(key, field string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return nil, ErrMissing
	}
	return clone(v), nil
}

func (m *Memory) HSet(key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		m.hashes[key] = h
	}
	h[field] = clone(value)
	return nil
}

func (m *Memory) HDel(key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes[key], field)
	return nil
}

func (m *Memory) Ping() error  { return nil }
func (m *Memory) Close() error { return nil }

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
