package pubsub

import (
	"sync"
	"time"
)

// Coalescer bounds the rate of a fan-out callback to one invocation per
// interval. Publish emits on the leading edge and coalesces everything
// else into a single trailing emit; PublishImmediate cancels any pending
// trailing emit and flushes right away, so a stale coalesced merge can
// never overwrite a forced one.
type Coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	emit     func()
	timer    *time.Timer
	open     bool
	pending  bool
	stopped  bool
}

func NewCoalescer(interval time.Duration, emit func()) *Coalescer {
	return &Coalescer{interval: interval, emit: emit}
}

func (c *Coalescer) Publish() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.open {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.openWindowLocked()
	c.mu.Unlock()
	c.emit()
}

// PublishImmediate flushes now regardless of the throttle window.
func (c *Coalescer) PublishImmediate() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = false
	c.openWindowLocked()
	c.mu.Unlock()
	c.emit()
}

// Stop cancels any pending emit. The coalescer is dead afterwards.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = false
	c.open = false
}

func (c *Coalescer) openWindowLocked() {
	c.open = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.interval, c.windowExpired)
}

func (c *Coalescer) windowExpired() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if !c.pending {
		c.open = false
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.openWindowLocked()
	c.mu.Unlock()
	c.emit()
}
