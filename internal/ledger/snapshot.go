package ledger

import (
	"fmt"
	"time"

	"github.com/spigell/apply-pilot/internal/application"
)

// Snapshot is a read-only view of the ledger for the monitoring surface.
// Producing it never blocks the writer beyond the individual queries.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`

	ByState        map[string]int `json:"by_state"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`

	// SubmittedInWindow counts submissions inside the rolling daily window,
	// per platform. Together with Eligible it lets an operator tell "rate
	// limited" apart from "ran out of eligible postings".
	SubmittedInWindow map[string]int `json:"submitted_in_window"`
	Eligible          int            `json:"eligible"`

	AverageSubmittedScore float64 `json:"average_submitted_score"`
}

// Snapshot aggregates current counts. The window is the rolling daily-cap
// window.
func (l *Ledger) Snapshot(now time.Time, window time.Duration) (*Snapshot, error) {
	snap := &Snapshot{
		TakenAt:           now,
		ByState:           make(map[string]int),
		FailureReasons:    make(map[string]int),
		SubmittedInWindow: make(map[string]int),
	}

	rows, err := l.db.Query(`SELECT state, COUNT(*) FROM applications GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("snapshot states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("snapshot states: %w", err)
		}
		snap.ByState[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot states: %w", err)
	}

	reasons, err := l.db.Query(
		`SELECT reason, COUNT(*) FROM applications
		 WHERE state IN (?, ?) AND reason != '' GROUP BY reason`,
		application.StateFailed, application.StateSkipped,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot reasons: %w", err)
	}
	defer reasons.Close()

	for reasons.Next() {
		var reason string
		var count int
		if err := reasons.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("snapshot reasons: %w", err)
		}
		snap.FailureReasons[reason] = count
	}
	if err := reasons.Err(); err != nil {
		return nil, fmt.Errorf("snapshot reasons: %w", err)
	}

	since := now.Add(-window).UnixNano()
	perPlatform, err := l.db.Query(
		`SELECT platform, COUNT(*) FROM applications
		 WHERE state = ? AND submitted_at >= ? GROUP BY platform`,
		application.StateSubmitted, since,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot submissions: %w", err)
	}
	defer perPlatform.Close()

	for perPlatform.Next() {
		var platform string
		var count int
		if err := perPlatform.Scan(&platform, &count); err != nil {
			return nil, fmt.Errorf("snapshot submissions: %w", err)
		}
		snap.SubmittedInWindow[platform] = count
	}
	if err := perPlatform.Err(); err != nil {
		return nil, fmt.Errorf("snapshot submissions: %w", err)
	}

	err = l.db.QueryRow(
		`SELECT COALESCE(AVG(combined), 0) FROM applications WHERE state = ?`,
		application.StateSubmitted,
	).Scan(&snap.AverageSubmittedScore)
	if err != nil {
		return nil, fmt.Errorf("snapshot average score: %w", err)
	}

	eligible, err := l.GetEligible(now, 1000)
	if err != nil {
		return nil, err
	}
	snap.Eligible = len(eligible)

	return snap, nil
}
