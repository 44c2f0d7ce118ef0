package metasource

import "sync"

// Gather is a fan-in completion tracker: a place for TryToExpire to
// register outstanding asynchronous sub-operations. If nothing was
// registered by the time the caller checks HasSubs, the segment can move
// straight to expired; otherwise the caller attaches a finisher that
// fires once every registered sub-operation completes.
type Gather struct {
	mu        sync.Mutex
	pending   int
	activated bool
	finisher  func()
	fired     bool
}

// NewGather returns an empty, unactivated gather.
func NewGather() *Gather { return &Gather{} }

// Add registers one outstanding sub-operation and returns the function the
// caller must invoke exactly once when that sub-operation completes.
func (g *Gather) Add() func() {
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.pending--
			fire := g.activated && g.pending == 0 && !g.fired
			if fire {
				g.fired = true
			}
			f := g.finisher
			g.mu.Unlock()
			if fire && f != nil {
				f()
			}
		})
	}
}

// HasSubs reports whether any sub-operation is still outstanding.
func (g *Gather) HasSubs() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending > 0
}

// SetFinisher registers the callback to run once every sub-operation has
// completed after Activate is called.
func (g *Gather) SetFinisher(f func()) {
	g.mu.Lock()
	g.finisher = f
	g.mu.Unlock()
}

// Activate arms the gather. If every sub-operation already completed
// (or none were ever registered), the finisher fires immediately.
func (g *Gather) Activate() {
	g.mu.Lock()
	g.activated = true
	fire := g.pending == 0 && !g.fired
	if fire {
		g.fired = true
	}
	f := g.finisher
	g.mu.Unlock()
	if fire && f != nil {
		f()
	}
}
