// Package pacing implements the randomized delays that make platform actions
// look human: a uniform inter-action delay and exponential backoff with
// jitter for retries. Policies are seedable so timing assertions in tests are
// reproducible.
package pacing

import (
	"math/rand"
	"sync"
	"time"
)

// Config holds the pacing bounds.
type Config struct {
	DelayMin      time.Duration
	DelayMax      time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	BackoffJitter time.Duration
}

// Policy produces delays according to the configured bounds.
type Policy struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a policy seeded from the clock.
func New(cfg Config) *Policy {
	return NewSeeded(cfg, time.Now().UnixNano())
}

// NewSeeded builds a policy with a fixed seed.
func NewSeeded(cfg Config, seed int64) *Policy {
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Policy{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Delay returns the mandatory pause before the next platform action, drawn
// uniformly from [DelayMin, DelayMax].
func (p *Policy) Delay() time.Duration {
	return p.cfg.DelayMin + p.jitter(p.cfg.DelayMax-p.cfg.DelayMin)
}

// Backoff returns the retry delay for the given attempt count: base doubled
// per attempt, capped, plus uniform jitter.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// A non-positive cap means uncapped.
	d := p.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.cfg.BackoffCap > 0 && d >= p.cfg.BackoffCap {
			d = p.cfg.BackoffCap
			break
		}
	}
	if p.cfg.BackoffCap > 0 && d > p.cfg.BackoffCap {
		d = p.cfg.BackoffCap
	}

	return d + p.jitter(p.cfg.BackoffJitter)
}

func (p *Policy) jitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(window) + 1))
}
