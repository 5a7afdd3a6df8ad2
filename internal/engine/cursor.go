package engine

import "github.com/roach88/statefold/internal/ir"

type verdict int

const (
	verdictApply verdict = iota
	verdictCovered
	verdictDuplicate
)

func (v verdict) String() string {
	switch v {
	case verdictApply:
		return "apply"
	case verdictCovered:
		return "covered"
	case verdictDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// cursor decides whether an event is applied, skipped or fatal.
//
// Blocks below next are already reflected in the state. From next on,
// events are identified by (blockNumber, logIndex, transactionHash) so a log
// delivered twice is folded once. Each live source must not move backwards in
// block number; within a block, merged sources may interleave.
//
// Owned by the fold goroutine.
type cursor struct {
	next uint64
	high uint64
	last []uint64
	seen map[uint64]map[ir.Key]struct{}
}

// newCursor starts a cursor for a state that reflects every block below
// next. sources is the number of live feeds (main plus externals).
func newCursor(next uint64, sources int) *cursor {
	last := make([]uint64, sources)
	for i := range last {
		last[i] = next
	}
	var high uint64
	if next > 0 {
		high = next - 1
	}
	return &cursor{
		next: next,
		high: high,
		last: last,
		seen: make(map[uint64]map[ir.Key]struct{}),
	}
}

// replay judges an event from the sorted past batch.
func (c *cursor) replay(ev ir.Event) verdict {
	if ev.BlockNumber < c.next {
		return verdictCovered
	}
	if c.markSeen(ev) {
		return verdictDuplicate
	}
	if ev.BlockNumber > c.high {
		c.high = ev.BlockNumber
	}
	return verdictApply
}

// seal marks every block up to and including head as covered once replay
// has finished.
func (c *cursor) seal(head uint64) {
	if head+1 > c.next {
		c.next = head + 1
	}
	if head > c.high {
		c.high = head
	}
	for i := range c.last {
		if c.last[i] < c.next {
			c.last[i] = c.next
		}
	}
	c.prune()
}

// live judges an event from a live feed.
func (c *cursor) live(source int, ev ir.Event) (verdict, error) {
	if ev.BlockNumber < c.next {
		return verdictCovered, nil
	}
	if c.isSeen(ev) {
		return verdictDuplicate, nil
	}
	if ev.BlockNumber < c.last[source] {
		return verdictApply, NewOutOfOrderError(ev, c.last[source])
	}

	c.markSeen(ev)
	c.last[source] = ev.BlockNumber
	if ev.BlockNumber > c.high {
		c.high = ev.BlockNumber
	}
	c.prune()
	return verdictApply, nil
}

// Block returns the highest block reflected in the state: the block a
// checkpoint of the current state is tagged with.
func (c *cursor) Block() uint64 {
	return c.high
}

func (c *cursor) isSeen(ev ir.Event) bool {
	_, ok := c.seen[ev.BlockNumber][ev.Key()]
	return ok
}

// markSeen records ev and reports whether it was already recorded.
func (c *cursor) markSeen(ev ir.Event) bool {
	keys, ok := c.seen[ev.BlockNumber]
	if !ok {
		keys = make(map[ir.Key]struct{})
		c.seen[ev.BlockNumber] = keys
	}
	k := ev.Key()
	if _, dup := keys[k]; dup {
		return true
	}
	keys[k] = struct{}{}
	return false
}

// prune drops identities no feed can deliver again without failing the
// ordering check.
func (c *cursor) prune() {
	floor := c.next
	for i, b := range c.last {
		if i == 0 || b < floor {
			floor = b
		}
	}
	for b := range c.seen {
		if b < floor {
			delete(c.seen, b)
		}
	}
}
