package pacing

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		DelayMin:      30 * time.Second,
		DelayMax:      120 * time.Second,
		BackoffBase:   time.Minute,
		BackoffCap:    30 * time.Minute,
		BackoffJitter: 30 * time.Second,
	}
}

func TestDelayWithinBounds(t *testing.T) {
	policy := NewSeeded(testConfig(), 1)

	for i := 0; i < 1000; i++ {
		d := policy.Delay()
		if d < 30*time.Second || d > 120*time.Second {
			t.Fatalf("delay out of bounds: %s", d)
		}
	}
}

func TestDelayDeterministicUnderSeed(t *testing.T) {
	a := NewSeeded(testConfig(), 42)
	b := NewSeeded(testConfig(), 42)

	for i := 0; i < 100; i++ {
		if da, db := a.Delay(), b.Delay(); da != db {
			t.Fatalf("same seed must produce the same sequence, got %s and %s at step %d", da, db, i)
		}
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffJitter = 0
	policy := NewSeeded(cfg, 1)

	if got := policy.Backoff(1); got != 2*time.Minute {
		t.Fatalf("attempt 1: expected 2m, got %s", got)
	}
	if got := policy.Backoff(2); got != 4*time.Minute {
		t.Fatalf("attempt 2: expected 4m, got %s", got)
	}
	if got := policy.Backoff(10); got != 30*time.Minute {
		t.Fatalf("attempt 10: expected the 30m cap, got %s", got)
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	policy := NewSeeded(testConfig(), 7)

	for i := 0; i < 1000; i++ {
		d := policy.Backoff(1)
		if d < 2*time.Minute || d > 2*time.Minute+30*time.Second {
			t.Fatalf("jittered backoff out of bounds: %s", d)
		}
	}
}

func TestBackoffUncappedWhenCapUnset(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffCap = 0
	cfg.BackoffJitter = 0
	policy := NewSeeded(cfg, 1)

	if got := policy.Backoff(3); got != 8*time.Minute {
		t.Fatalf("attempt 3 with no cap: expected 8m, got %s", got)
	}
	if got := policy.Backoff(6); got != 64*time.Minute {
		t.Fatalf("attempt 6 with no cap: expected 64m, got %s", got)
	}
}

func TestBackoffNegativeAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffJitter = 0
	policy := NewSeeded(cfg, 1)

	if got := policy.Backoff(-1); got != time.Minute {
		t.Fatalf("negative attempt: expected the base, got %s", got)
	}
}

func TestInvertedBoundsCollapse(t *testing.T) {
	cfg := testConfig()
	cfg.DelayMin = 2 * time.Minute
	cfg.DelayMax = time.Minute

	policy := NewSeeded(cfg, 1)
	if got := policy.Delay(); got != 2*time.Minute {
		t.Fatalf("inverted bounds must collapse to min, got %s", got)
	}
}
