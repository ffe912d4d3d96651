package schedule

import (
	"sync"
	"time"
)

// Group owns a set of timers scheduled on a Clock. Once Stop is called no
// callback of the group will run, including callbacks whose timer already
// fired but have not acquired the group yet.
type Group struct {
	clock Clock

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]Timer
	stopped bool
}

// NewGroup creates an empty timer group on the given clock.
func NewGroup(clock Clock) *Group {
	if clock == nil {
		clock = RealClock{}
	}
	return &Group{
		clock:   clock,
		pending: make(map[uint64]Timer),
	}
}

// Clock returns the clock timers are scheduled on.
func (g *Group) Clock() Clock {
	return g.clock
}

// After runs f once after d unless the group is stopped first.
// It reports false when the group is already stopped.
func (g *Group) After(d time.Duration, f func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}

	g.nextID++
	id := g.nextID
	g.pending[id] = g.clock.AfterFunc(d, func() {
		if !g.release(id) {
			return
		}
		f()
	})
	return true
}

// Every runs f every interval until the group is stopped.
func (g *Group) Every(interval time.Duration, f func()) bool {
	var tick func()
	tick = func() {
		f()
		g.After(interval, tick)
	}
	return g.After(interval, tick)
}

// release removes a fired timer and reports whether its callback may run.
func (g *Group) release(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	if _, ok := g.pending[id]; !ok {
		return false
	}
	delete(g.pending, id)
	return true
}

// Pending returns the number of timers that have not fired yet.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Stop cancels every pending timer. It is safe to call more than once.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	for id, t := range g.pending {
		t.Stop()
		delete(g.pending, id)
	}
}

// Cancel drops every pending timer. Unlike Stop the group stays usable.
func (g *Group) Cancel() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.pending)
	for id, t := range g.pending {
		t.Stop()
		delete(g.pending, id)
	}
	return n
}

// Stopped reports whether Stop has been called.
func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
