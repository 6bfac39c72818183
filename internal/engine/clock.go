package engine

import "sync/atomic"

// Clock stamps the writes made through one open store with seq numbers.
//
// A store opened with NewClockAt(MaxSeq) continues where its last writer
// stopped, so seq orders every write the store has seen. That only holds
// while a single Clock writes to the store; the protocol layer allows one
// open connection per store for this reason. Executions running on that
// connection share the Clock concurrently.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt returns a Clock whose last stamp was last. The next write is
// stamped last+1.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.seq.Store(last)
	return c
}

// Next stamps a write.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current is the stamp of the latest write, or the resume point if no
// write has happened since open.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
