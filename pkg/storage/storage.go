// Package storage provides the durable key/value targets that back a device's
// local state, plus a mirrored pair that writes to both and reads the first
// one available.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Target when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Target is a single durable key/value backend.
type Target interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Named is implemented by targets that label themselves in logs and metrics.
type Named interface {
	Name() string
}

func nameOf(t Target) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return "target"
}
