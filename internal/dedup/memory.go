package dedup

import (
	"context"
	"sync"
)

// Memory is a process-lifetime set of message ids.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		seen: make(map[string]struct{}),
	}
}

func (m *Memory) ShouldProcess(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.seen[id]
	return !exists
}

func (m *Memory) MarkProcessed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen[id] = struct{}{}
}

// TryAcquire checks and marks under a single lock so two racing callers never
// both see the id as new.
func (m *Memory) TryAcquire(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[id]; exists {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.seen)
}
