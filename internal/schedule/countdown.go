// Package schedule runs operator-visible delayed actions, such as the wind
// gauge countdown, that must be cancelable when the screen goes away.
package schedule

import (
	"sync"
	"time"

	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

// Countdown counts down from Steps, one step per Interval, then fires once.
//
// OnTick is called with the remaining step count, starting with Steps itself
// before the first interval elapses. OnFire is called once the count reaches
// zero. After Cancel returns, neither callback starts again.
type Countdown struct {
	clock    timeutil.Clock
	ticker   timeutil.Ticker
	steps    int
	onTick   func(remaining int)
	onFire   func()
	mu       sync.Mutex
	finished bool
	stop     chan struct{}
	done     chan struct{}
}

// Start creates the countdown and begins ticking. The ticker is created before
// Start returns, so a mock clock may be advanced right away.
func Start(clock timeutil.Clock, steps int, interval time.Duration, onTick func(int), onFire func()) *Countdown {
	if onTick == nil {
		onTick = func(int) {}
	}
	if onFire == nil {
		onFire = func() {}
	}
	c := &Countdown{
		clock:  clock,
		steps:  steps,
		onTick: onTick,
		onFire: onFire,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if steps <= 0 {
		go c.fireNow()
		return c
	}
	c.ticker = clock.NewTicker(interval)
	c.mu.Lock()
	c.onTick(steps)
	c.mu.Unlock()
	go c.run()
	return c
}

// Delay fires once after d.
func Delay(clock timeutil.Clock, d time.Duration, onFire func()) *Countdown {
	return Start(clock, 1, d, nil, onFire)
}

func (c *Countdown) fireNow() {
	defer close(c.done)
	if c.claimFire() {
		c.onFire()
	}
}

func (c *Countdown) run() {
	defer close(c.done)
	defer c.ticker.Stop()

	remaining := c.steps
	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.C():
		}
		remaining--
		if remaining > 0 {
			c.mu.Lock()
			if c.finished {
				c.mu.Unlock()
				return
			}
			c.onTick(remaining)
			c.mu.Unlock()
			continue
		}
		if c.claimFire() {
			c.onTick(0)
			c.onFire()
		}
		return
	}
}

// claimFire marks the countdown finished. It reports false when Cancel won.
func (c *Countdown) claimFire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	c.finished = true
	return true
}

// Cancel stops the countdown. It reports whether it prevented the fire; false
// means the countdown had already fired or was already cancelled.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	c.finished = true
	close(c.stop)
	return true
}

// Done is closed once the countdown goroutine has exited, including any
// OnFire call.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
