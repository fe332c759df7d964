package loop

import (
	"sync"
	"time"
)

// FrameID identifies a pending frame request.
type FrameID uint64

// FrameCallback receives the timestamp of the flush that invoked it.
type FrameCallback func(now time.Time)

// Scheduler is the frame-scheduling primitive a Driver reschedules itself on.
type Scheduler interface {
	RequestFrame(cb FrameCallback) FrameID
	CancelFrame(id FrameID)
}

// FrameClock queues one-shot frame callbacks until the host flushes them,
// typically once per display refresh. Callbacks requested while a flush is
// running are deferred to the next flush.
type FrameClock struct {
	mu      sync.Mutex
	nextID  FrameID
	order   []FrameID
	pending map[FrameID]FrameCallback
}

// NewFrameClock returns an empty clock.
func NewFrameClock() *FrameClock {
	return &FrameClock{pending: make(map[FrameID]FrameCallback)}
}

// RequestFrame queues cb for the next flush.
func (c *FrameClock) RequestFrame(cb FrameCallback) FrameID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.pending[id] = cb
	c.order = append(c.order, id)
	return id
}

// CancelFrame drops a queued callback. Unknown ids are ignored.
func (c *FrameClock) CancelFrame(id FrameID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending reports how many callbacks are waiting for a flush.
func (c *FrameClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush runs every callback queued before the call in request order and
// returns how many ran.
func (c *FrameClock) Flush(now time.Time) int {
	c.mu.Lock()
	batch := c.order
	c.order = nil
	c.mu.Unlock()

	ran := 0
	for _, id := range batch {
		c.mu.Lock()
		cb, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			continue
		}
		cb(now)
		ran++
	}
	return ran
}
