package scheduler

import (
	"time"

	"github.com/spigell/apply-pilot/internal/ledger"
)

// PlatformStatus describes the circuit-breaker state of one platform gate.
type PlatformStatus struct {
	Cooling   bool      `json:"cooling"`
	CoolUntil time.Time `json:"cool_until,omitempty"`
}

// Stats is the read-only monitoring snapshot. Producing it never blocks the
// dispatch loop or the workers.
type Stats struct {
	Ledger    *ledger.Snapshot          `json:"ledger"`
	Platforms map[string]PlatformStatus `json:"platforms"`

	// Counters since process start. CapDeferred and GateBusy distinguish
	// "could not reach the daily target due to limits" from "ran out of
	// eligible postings" (Ledger.Eligible == 0).
	Dispatched  int64 `json:"dispatched"`
	GateBusy    int64 `json:"gate_busy"`
	CapDeferred int64 `json:"cap_deferred"`
	Parked      int64 `json:"parked"`
	Ingested    int64 `json:"ingested"`
}

// Stats merges the ledger snapshot with the scheduler's own counters.
func (s *Scheduler) Stats() (*Stats, error) {
	now := s.now()

	snap, err := s.ledger.Snapshot(now, s.cfg.DailyWindow)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Ledger:    snap,
		Platforms: make(map[string]PlatformStatus, len(s.gates)),
	}

	for platform, gate := range s.gates {
		cooling, until := gate.cooling(now)
		status := PlatformStatus{Cooling: cooling}
		if cooling {
			status.CoolUntil = until
		}
		stats.Platforms[platform] = status
	}

	s.mu.Lock()
	stats.Dispatched = s.counters.Dispatched
	stats.GateBusy = s.counters.GateBusy
	stats.CapDeferred = s.counters.CapDeferred
	stats.Parked = s.counters.Parked
	stats.Ingested = s.counters.Ingested
	s.mu.Unlock()

	return stats, nil
}
