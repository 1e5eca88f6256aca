package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// gate is the per-platform session token: at most one submission holds it at
// a time, modeling the single stealth browser session per platform. It also
// carries the circuit-breaker deadline and a rate floor for platform actions.
type gate struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	held      bool
	coolUntil time.Time
}

func newGate(actionFloor time.Duration) *gate {
	limit := rate.Inf
	if actionFloor > 0 {
		limit = rate.Every(actionFloor)
	}
	return &gate{limiter: rate.NewLimiter(limit, 1)}
}

// tryAcquire takes the session token unless it is held or the breaker is
// cooling down.
func (g *gate) tryAcquire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held || now.Before(g.coolUntil) {
		return false
	}

	g.held = true
	return true
}

// release returns the token. Safe to call once per acquire on every exit
// path.
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
}

// trip closes the gate until the given deadline.
func (g *gate) trip(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.coolUntil) {
		g.coolUntil = until
	}
}

// cooling reports whether the breaker currently rejects dispatches.
func (g *gate) cooling(now time.Time) (bool, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.coolUntil), g.coolUntil
}
