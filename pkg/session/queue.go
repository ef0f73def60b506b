package session

import (
	"time"
)

type queuedUtterance struct {
	message    string
	enqueuedAt time.Time
}

func (c *Controller) isBusyLocked() bool {
	return c.inFlight > 0
}

// enqueueLocked returns the queue position, or -1 when the queue is full.
func (c *Controller) enqueueLocked(q queuedUtterance) int {
	if len(c.queue) >= c.opts.MaxQueue {
		return -1
	}
	q.enqueuedAt = time.Now()
	c.queue = append(c.queue, q)
	return len(c.queue)
}

func (c *Controller) dequeueLocked() (queuedUtterance, bool) {
	if len(c.queue) == 0 {
		return queuedUtterance{}, false
	}
	q := c.queue[0]
	c.queue = c.queue[1:]
	return q, true
}
