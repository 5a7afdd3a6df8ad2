package engine

import "sync/atomic"

// Clock stamps snapshots with a logical sequence number, so consumers can
// order them without looking at wall time or block numbers. Safe for
// concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next advances the clock and returns the new stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last stamp handed out, or 0 if none was.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
