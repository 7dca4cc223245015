package ledger

import (
	"context"
	"sync"
)

// Memory is a Ledger that forgets everything once the process ends.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}}
}

func (m *Memory) Contains(ctx context.Context, url string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[url]
	return ok, nil
}

func (m *Memory) Add(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.URL] = e
	return nil
}

func (m *Memory) Close() error { return nil }
