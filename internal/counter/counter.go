// Package counter backs the live-counter HTTP API carried over from the
// original service. It has no interaction with the relay core.
package counter

import (
	"context"
	"sync/atomic"
)

// Counter tracks a single monotonically increasing site-wide count.
type Counter interface {
	Increment(ctx context.Context) (int64, error)
	Value(ctx context.Context) (int64, error)
}

// Memory is an in-process Counter for single-instance deployments and
// tests.
type Memory struct {
	value atomic.Int64
}

// NewMemory returns a Counter starting at zero.
func NewMemory() *Memory {
	return &Memory{}
}

// Increment implements Counter.
func (m *Memory) Increment(context.Context) (int64, error) {
	return m.value.Add(1), nil
}

// Value implements Counter.
func (m *Memory) Value(context.Context) (int64, error) {
	return m.value.Load(), nil
}
