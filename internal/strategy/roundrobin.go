package strategy

import (
	"sync/atomic"
)

// Cursor is the shared round-robin counter. It only grows; callers wrap it
// modulo the size of whatever subset they rotate through.
type Cursor struct {
	current atomic.Uint64
}

func NewCursor() *Cursor {
	return &Cursor{}
}

// Next returns the current position modulo n and advances the cursor.
// n must be positive.
func (c *Cursor) Next(n int) int {
	v := c.current.Add(1)

	return int((v - 1) % uint64(n))
}

// Value returns how many times the cursor has advanced.
func (c *Cursor) Value() uint64 {
	return c.current.Load()
}
