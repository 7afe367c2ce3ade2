package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies the engine's time base in epoch milliseconds. Stage
// event timestamps are expected in the same base, so tests can drive
// both from a manual clock.
type Clock interface {
	NowMillis() int64
}

// SystemClock reads the wall clock
type SystemClock struct{}

// NowMillis returns the current time in epoch milliseconds
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ManualClock is a settable clock for tests. Safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a manual clock starting at startMs
func NewManualClock(startMs int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(startMs)
	return c
}

// NowMillis returns the clock's current value
func (c *ManualClock) NowMillis() int64 {
	return c.now.Load()
}

// Advance moves the clock forward by d milliseconds
func (c *ManualClock) Advance(d int64) {
	c.now.Add(d)
}

// Set moves the clock to an absolute value
func (c *ManualClock) Set(ms int64) {
	c.now.Store(ms)
}
