package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Mirrored writes every value to a primary and a secondary target and reads
// from the first target that holds an acceptable value.
type Mirrored struct {
	primary   Target
	secondary Target
}

// NewMirrored pairs two targets. The secondary may be nil.
func NewMirrored(primary, secondary Target) (*Mirrored, error) {
	if primary == nil {
		return nil, errors.New("primary storage target required")
	}
	return &Mirrored{primary: primary, secondary: secondary}, nil
}

func (m *Mirrored) targets() []Target {
	if m.secondary == nil {
		return []Target{m.primary}
	}
	return []Target{m.primary, m.secondary}
}

// Read walks the targets in order and returns the first payload that accept
// does not reject. A nil accept takes the first payload found. When no target
// yields an acceptable value the combined failures are returned, or
// ErrNotFound if every target was simply empty.
func (m *Mirrored) Read(ctx context.Context, key string, accept func([]byte) error) ([]byte, error) {
	var errs error
	for _, target := range m.targets() {
		raw, err := target.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s get: %w", nameOf(target), err))
			continue
		}
		if accept != nil {
			if err := accept(raw); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s payload rejected: %w", nameOf(target), err))
				continue
			}
		}
		return raw, nil
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrNotFound
}

// Get returns the first stored payload.
func (m *Mirrored) Get(ctx context.Context, key string) ([]byte, error) {
	return m.Read(ctx, key, nil)
}

// Set writes value to every target. A failure on one target does not stop
// the write to the other.
func (m *Mirrored) Set(ctx context.Context, key string, value []byte) error {
	var errs error
	for _, target := range m.targets() {
		if err := target.Set(ctx, key, value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s set: %w", nameOf(target), err))
		}
	}
	return errs
}

// Remove erases key from every target.
func (m *Mirrored) Remove(ctx context.Context, key string) error {
	var errs error
	for _, target := range m.targets() {
		if err := target.Remove(ctx, key); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s remove: %w", nameOf(target), err))
		}
	}
	return errs
}

func (m *Mirrored) Name() string { return "mirrored" }
