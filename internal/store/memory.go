// ABOUTME: In-memory offset store for tests and ephemeral clients
// ABOUTME: Mutex-guarded single value with a store counter
package store

import (
	"context"
	"sync"
)

// Memory keeps the offset in process memory.
type Memory struct {
	mu     sync.RWMutex
	offset int64
	ok     bool
	stores int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWith returns a store that already holds offset.
func NewMemoryWith(offset int64) *Memory {
	return &Memory{offset: offset, ok: true}
}

func (m *Memory) LoadOffset(ctx context.Context) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offset, m.ok, nil
}

func (m *Memory) StoreOffset(ctx context.Context, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = offset
	m.ok = true
	m.stores++
	return nil
}

// Stores returns how many times StoreOffset was called.
func (m *Memory) Stores() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores
}

func (m *Memory) Close() error {
	return nil
}
