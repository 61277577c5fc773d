// Package countdown provides the deadline-anchored question timer.
//
// Remaining time is always recomputed from a fixed deadline, never
// decremented per tick, so scheduling jitter cannot accumulate into drift.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is how often the countdown re-evaluates remaining time.
const DefaultTickInterval = 200 * time.Millisecond

// Countdown produces a monotonically decreasing remaining-time value from a
// fixed deadline. At most one countdown should be live per view; Arm stops
// any previous run before starting a new one.
type Countdown struct {
	clock    clockwork.Clock
	interval time.Duration
	onTick   func(remaining time.Duration)

	mu       sync.Mutex
	anchor   time.Time
	deadline time.Time
	stop     chan struct{}
	running  bool
}

// New creates a countdown. onTick is invoked from the tick goroutine with
// the freshly computed remaining duration; it must not block.
func New(clock clockwork.Clock, interval time.Duration, onTick func(remaining time.Duration)) *Countdown {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Countdown{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
	}
}

// Arm starts the countdown with timeLimit minus whatever has already
// elapsed server-side, clamped to zero. The anchor captured here is the
// reference point for both the deadline and response-time measurement.
func (c *Countdown) Arm(timeLimit, elapsed time.Duration) {
	c.Stop()

	remaining := timeLimit - elapsed
	if remaining < 0 {
		remaining = 0
	}

	c.mu.Lock()
	c.anchor = c.clock.Now()
	c.deadline = c.anchor.Add(remaining)
	if remaining == 0 {
		// Already expired at arm time; nothing to tick.
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	c.running = true
	stop := c.stop
	c.mu.Unlock()

	go c.run(stop)
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			stale := !c.running || c.stop != stop
			c.mu.Unlock()
			if stale {
				return
			}
			remaining := c.Remaining()
			if c.onTick != nil {
				c.onTick(remaining)
			}
			if remaining == 0 {
				c.Stop()
				return
			}
		}
	}
}

// Remaining returns max(0, deadline - now). Zero when not armed.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return 0
	}
	remaining := c.deadline.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Since returns the time elapsed since the arm anchor. Response times are
// measured from this anchor rather than from handler entry, so network
// delay before a submit handler runs does not inflate them.
func (c *Countdown) Since() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anchor.IsZero() {
		return 0
	}
	return c.clock.Now().Sub(c.anchor)
}

// Stop halts ticking. Idempotent; safe to call while never armed.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stop)
	c.running = false
}
