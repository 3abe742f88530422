package bridge

import "sync/atomic"

// IDAllocator hands out synthetic update identifiers that never collide with
// identifiers issued by the platform.
type IDAllocator interface {
	Next() int
}

// NegativeCounter yields -1, -2, -3, ... for the lifetime of the process.
// Platform update ids are never negative, so the sign alone marks an update
// as injected.
type NegativeCounter struct {
	n atomic.Int64
}

func NewNegativeCounter() *NegativeCounter {
	return &NegativeCounter{}
}

func (c *NegativeCounter) Next() int {
	return int(c.n.Add(-1))
}
