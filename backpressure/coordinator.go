// Package backpressure implements the thresholded load coordinator from
// spec §4.8: a counter with a soft and a hard limit, firing overload()
// edge-triggered and broken() once per lifetime.
package backpressure

import (
	basesync "github.com/gostdlib/base/concurrency/sync"
)

// OverloadFunc is called on the softLimit crossing. overloaded is true when load
// rises to or above softLimit, false when it falls back below it.
type OverloadFunc func(overloaded bool)

// BrokenFunc is called exactly once, the first time load reaches hardLimit.
type BrokenFunc func()

// Config configures a Coordinator. SoftLimit must be < HardLimit.
type Config struct {
	SoftLimit int
	HardLimit int
	OnOverload OverloadFunc
	OnBroken   BrokenFunc
}

// Coordinator tracks a single load counter against soft/hard limits and
// invokes callbacks on the relevant threshold crossings. Safe for
// concurrent use; callbacks are invoked outside the internal lock.
type Coordinator struct {
	softLimit  int
	hardLimit  int
	onOverload OverloadFunc
	onBroken   BrokenFunc

	mu        basesync.Mutex
	load      int
	overloaded bool
	broken    bool
}

// New constructs a Coordinator. A nil OnOverload/OnBroken is a no-op.
func New(cfg Config) *Coordinator {
	if cfg.OnOverload == nil {
		cfg.OnOverload = func(bool) {}
	}
	if cfg.OnBroken == nil {
		cfg.OnBroken = func() {}
	}
	return &Coordinator{
		softLimit:  cfg.SoftLimit,
		hardLimit:  cfg.HardLimit,
		onOverload: cfg.OnOverload,
		onBroken:   cfg.OnBroken,
	}
}

// Load returns the current counter value.
func (c *Coordinator) Load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load
}

// Increment raises the load counter by one, firing onOverload(true) on the
// upward crossing of softLimit and onBroken() on the upward crossing of
// hardLimit (the latter only ever once per Coordinator lifetime).
func (c *Coordinator) Increment() { c.IncrementBy(1) }

// Decrement lowers the load counter by one, firing onOverload(false) on
// the downward crossing of softLimit. Decrement below zero is a no-op;
// the counter never decrements past the last Increment it balances.
func (c *Coordinator) Decrement() { c.DecrementBy(1) }

// IncrementBy raises the load counter by n (e.g. a Block's byte size),
// applying the same threshold semantics as Increment. n <= 0 is a no-op.
func (c *Coordinator) IncrementBy(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.load += n
	load := c.load
	fireOverload, overloadVal := c.crossCheckLocked(load)
	fireBroken := !c.broken && load >= c.hardLimit
	if fireBroken {
		c.broken = true
	}
	c.mu.Unlock()

	if fireOverload {
		c.onOverload(overloadVal)
	}
	if fireBroken {
		c.onBroken()
	}
}

// DecrementBy lowers the load counter by n, clamped at zero. n <= 0 is a
// no-op.
func (c *Coordinator) DecrementBy(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	if n > c.load {
		n = c.load
	}
	c.load -= n
	load := c.load
	fireOverload, overloadVal := c.crossCheckLocked(load)
	c.mu.Unlock()

	if fireOverload {
		c.onOverload(overloadVal)
	}
}

// crossCheckLocked must be called with mu held. It updates c.overloaded
// and reports whether/what to fire, guaranteeing the callback count
// matches the net direction even under concurrent interleaved crossings
// (spec §4.8: "eventual ordering correctness").
func (c *Coordinator) crossCheckLocked(load int) (fire bool, overloaded bool) {
	wantOverloaded := load >= c.softLimit
	if wantOverloaded != c.overloaded {
		c.overloaded = wantOverloaded
		return true, wantOverloaded
	}
	return false, false
}

// Broken reports whether the hard limit has ever been reached.
func (c *Coordinator) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Gate is the producer-side pause point spec §4.8 describes: "a gate that
// blocks the next send until overload clears". A Coordinator's OnOverload
// callback is the natural way to drive one (see NewGate).
type Gate struct {
	mu     basesync.Mutex
	closed bool
	open   bool
	waitCh chan struct{}
}

// NewGate constructs an initially-open Gate.
func NewGate() *Gate {
	return &Gate{open: true, waitCh: make(chan struct{})}
}

// Set opens or closes the gate. Coordinators call this from OnOverload.
// After Close, Set is a no-op.
func (g *Gate) Set(open bool) {
	g.mu.Lock()
	if g.closed || g.open == open {
		g.mu.Unlock()
		return
	}
	g.open = open
	if open {
		close(g.waitCh)
		g.waitCh = make(chan struct{})
	}
	g.mu.Unlock()
}

// Close permanently opens the gate and releases every waiter; used when the
// thing the gate is guarding (e.g. a Wire) is shutting down, so a blocked
// producer doesn't hang forever on a gate nobody will ever reopen.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	if !g.open {
		g.open = true
		close(g.waitCh)
	}
	g.mu.Unlock()
}

// Wait blocks until the gate is open or done is closed.
func (g *Gate) Wait(done <-chan struct{}) {
	for {
		g.mu.Lock()
		if g.open {
			g.mu.Unlock()
			return
		}
		ch := g.waitCh
		g.mu.Unlock()

		select {
		case <-ch:
		case <-done:
			return
		}
	}
}
