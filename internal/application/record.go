// Package application defines the per-posting application record and the
// submission state machine that governs its lifecycle.
package application

import (
	"time"

	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/match"
)

// State is the lifecycle state of an application record.
type State string

const (
	StateDiscovered State = "discovered"
	StateScored     State = "scored"
	StateQueued     State = "queued"
	StateGenerating State = "generating"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateRetryWait  State = "retry_wait"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Valid reports whether the string is a known state. Used when loading
// records from the ledger.
func (s State) Valid() bool {
	switch s {
	case StateDiscovered, StateScored, StateQueued, StateGenerating,
		StateSubmitting, StateSubmitted, StateRetryWait, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Failure reasons recorded on terminal states.
const (
	ReasonExhausted      = "exhausted"
	ReasonBelowThreshold = "below_threshold"
	ReasonManualSkip     = "manual_skip"
)

// Record is the only mutable entity in the system. The ledger owns it
// exclusively; everything else sees copies.
type Record struct {
	Key          job.Key
	State        State
	Score        match.Score
	Attempts     int
	LastAttempt  time.Time
	NextEligible time.Time
	SubmittedAt  time.Time
	Reason       string
	ArtifactID   string
}

// NewRecord returns a fresh record in the discovered state.
func NewRecord(key job.Key) Record {
	return Record{Key: key, State: StateDiscovered}
}
