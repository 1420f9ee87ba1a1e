package replay

import (
	"sort"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/calibration"
)

// Clock is a virtual clock. Timers fire only when Advance moves past them.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
	seq    int
}

type timer struct {
	c     *Clock
	at    time.Time
	f     func()
	done  bool
	order int
}

// Stop cancels the timer. Returns false if it already fired or was stopped.
func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// NewClock returns a clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock reaches now+d. It satisfies
// calibration.Scheduler.
func (c *Clock) AfterFunc(d time.Duration, f func()) calibration.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, at: c.now.Add(d), f: f, order: c.seq}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in time order.
// Timers scheduled by a firing timer run in the same call when due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.prune()
			c.mu.Unlock()
			return
		}
		next.done = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of timers not yet fired or stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// nextDue returns the earliest live timer at or before target. Caller holds mu.
func (c *Clock) nextDue(target time.Time) *timer {
	var due []*timer
	for _, t := range c.timers {
		if !t.done && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].order < due[j].order
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (c *Clock) prune() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	c.timers = live
}
