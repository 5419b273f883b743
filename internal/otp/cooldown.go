package otp

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// ResendCooldown is how long resend stays blocked after a successful request.
	ResendCooldown = 30 * time.Second
	tickInterval   = time.Second
)

// Cooldown is an owned countdown. The ticker is acquired by StartCooldown and
// released either when the countdown reaches zero or when Release is called.
type Cooldown struct {
	clock    clockwork.Clock
	deadline time.Time
	ticker   clockwork.Ticker
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	released bool
}

// StartCooldown begins a countdown of d. onTick, if set, is called once per
// second with the remaining time and a final time with zero.
func StartCooldown(clock clockwork.Clock, d time.Duration, onTick func(remaining time.Duration)) *Cooldown {
	c := &Cooldown{
		clock:    clock,
		deadline: clock.Now().Add(d),
		ticker:   clock.NewTicker(tickInterval),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run(onTick)
	return c
}

func (c *Cooldown) run(onTick func(time.Duration)) {
	defer close(c.done)
	defer c.ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.Chan():
			remaining := c.Remaining()
			if onTick != nil {
				onTick(remaining)
			}
			if remaining <= 0 {
				c.markReleased()
				return
			}
		}
	}
}

// Remaining is derived from the deadline so it is exact regardless of tick delivery.
func (c *Cooldown) Remaining() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	released := c.released
	c.mu.Unlock()
	if released {
		return 0
	}
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSeconds rounds up, matching what a countdown display shows.
func (c *Cooldown) RemainingSeconds() int {
	left := c.Remaining()
	secs := int(left / time.Second)
	if left%time.Second > 0 {
		secs++
	}
	return secs
}

func (c *Cooldown) Active() bool {
	return c.Remaining() > 0
}

// Release stops the ticker early. Safe to call more than once.
func (c *Cooldown) Release() {
	if c == nil {
		return
	}
	c.markReleased()
	c.once.Do(func() { close(c.stop) })
}

// Done is closed once the ticker goroutine has exited.
func (c *Cooldown) Done() <-chan struct{} {
	return c.done
}

func (c *Cooldown) markReleased() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}
