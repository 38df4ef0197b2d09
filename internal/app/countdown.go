package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown drives the assessment time limit at one-second resolution.
// Remaining time is derived from a deadline rather than counted ticks, so a
// fake clock advanced past the deadline expires it in one step.
type Countdown struct {
	clock clockwork.Clock

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

func NewCountdown(clock clockwork.Clock) *Countdown {
	return &Countdown{clock: clock}
}

// Start begins the timer. onTick receives the remaining time once per second;
// onExpire fires at most once, when the deadline passes, and no onTick follows
// it. Callbacks run on the countdown's own goroutine.
func (c *Countdown) Start(duration time.Duration, onTick func(remaining time.Duration), onExpire func()) {
	c.mu.Lock()
	c.stopCh = make(chan struct{})
	c.stopped = false
	stopCh := c.stopCh
	deadline := c.clock.Now().Add(duration)
	c.mu.Unlock()

	ticker := c.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.Chan():
				select {
				case <-stopCh:
					return
				default:
				}
				remaining := deadline.Sub(c.clock.Now())
				if remaining <= 0 {
					onExpire()
					return
				}
				onTick(remaining)
			}
		}
	}()
}

// Stop cancels the timer. Idempotent; safe after expiry and on a countdown
// that was never started. A terminal session must always call it so no timer
// outlives the session it belongs to.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.stopCh == nil {
		return
	}
	c.stopped = true
	close(c.stopCh)
}
