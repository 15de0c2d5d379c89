package storage

import (
	"context"
	"sync"
)

// MemoryTarget keeps values in process memory. Used in dev and tests.
type MemoryTarget struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{data: map[string][]byte{}}
}

func (t *MemoryTarget) Get(ctx context.Context, key string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *MemoryTarget) Set(ctx context.Context, key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = append([]byte(nil), value...)
	return nil
}

func (t *MemoryTarget) Remove(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, key)
	return nil
}

func (t *MemoryTarget) Name() string { return "memory" }
