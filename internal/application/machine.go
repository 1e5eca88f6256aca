package application

import (
	"errors"
	"fmt"
	"time"

	"github.com/spigell/apply-pilot/internal/match"
)

// ErrInvalidTransition is returned for any (state, event) pair the machine
// does not define. Callers must treat it as a data-integrity fault, not as a
// no-op.
var ErrInvalidTransition = errors.New("invalid transition")

// Event is a request to move a record forward. Transitions happen only
// through events; nothing writes states directly.
type Event interface {
	Name() string
}

// Scored carries a freshly computed match score.
type Scored struct {
	Score match.Score
}

// Queue moves an eligible record into the dispatch queue. It is also the
// drain edge from retry_wait once the backoff deadline has passed.
type Queue struct{}

// Dispatch hands a queued record to a submission worker.
type Dispatch struct{}

// GenerateOK records the generated cover-letter artifact.
type GenerateOK struct {
	ArtifactID string
}

// GenerateFail reports a failed generation attempt. Generation failures are
// transient by definition; fatal conditions surface at submission.
type GenerateFail struct {
	Err error
}

// SubmitOK marks the application as submitted.
type SubmitOK struct{}

// SubmitFail reports a failed submission attempt.
type SubmitFail struct {
	Err       error
	Retryable bool
}

// RateLimited defers a record without counting an attempt. Raised by the
// scheduler for platform cooldowns and cancellation, never by collaborators.
type RateLimited struct {
	Cooldown time.Duration
}

// Skip marks a record as skipped. Raised by re-scoring below the threshold
// and by manual review.
type Skip struct {
	Reason string
}

func (Scored) Name() string       { return "scored" }
func (Queue) Name() string        { return "queue" }
func (Dispatch) Name() string     { return "dispatch" }
func (GenerateOK) Name() string   { return "generate_ok" }
func (GenerateFail) Name() string { return "generate_fail" }
func (SubmitOK) Name() string     { return "submit_ok" }
func (SubmitFail) Name() string   { return "submit_fail" }
func (RateLimited) Name() string  { return "rate_limited" }
func (Skip) Name() string         { return "skip" }

// BackoffFunc computes the retry delay for the given attempt count.
type BackoffFunc func(attempt int) time.Duration

// Machine applies events to records. It is stateless; the record carries all
// mutable data.
type Machine struct {
	maxAttempts int
	backoff     BackoffFunc
}

// NewMachine builds a state machine with the configured attempt cap and
// backoff policy.
func NewMachine(maxAttempts int, backoff BackoffFunc) *Machine {
	return &Machine{maxAttempts: maxAttempts, backoff: backoff}
}

// MaxAttempts returns the attempt cap. Crash recovery enforces the same cap
// outside the event path.
func (m *Machine) MaxAttempts() int { return m.maxAttempts }

// Apply is a total function of (current state, event). Undefined pairs yield
// ErrInvalidTransition and leave the record untouched.
func (m *Machine) Apply(rec Record, ev Event, now time.Time) (Record, error) {
	switch e := ev.(type) {
	case Scored:
		return m.applyScored(rec, e, now)
	case Queue:
		return m.applyQueue(rec, now)
	case Dispatch:
		return m.applyDispatch(rec, now)
	case GenerateOK:
		return m.applyGenerateOK(rec, e, now)
	case GenerateFail:
		return m.retryOrFail(rec, StateGenerating, e.Err, now)
	case SubmitOK:
		return m.applySubmitOK(rec, now)
	case SubmitFail:
		return m.applySubmitFail(rec, e, now)
	case RateLimited:
		return m.applyRateLimited(rec, e, now)
	case Skip:
		return m.applySkip(rec, e, now)
	default:
		return rec, m.reject(rec, ev)
	}
}

func (m *Machine) applyScored(rec Record, e Scored, now time.Time) (Record, error) {
	// Re-scoring an already scored record supersedes the old score; a score
	// dropping below the threshold retires the record.
	if rec.State != StateDiscovered && rec.State != StateScored {
		return rec, m.reject(rec, e)
	}

	rec.Score = e.Score
	if !e.Score.Pass {
		rec.State = StateSkipped
		rec.Reason = ReasonBelowThreshold
		return rec, nil
	}

	rec.State = StateScored
	rec.Reason = ""
	return rec, nil
}

func (m *Machine) applyQueue(rec Record, now time.Time) (Record, error) {
	switch rec.State {
	case StateScored:
		rec.State = StateQueued
		return rec, nil
	case StateRetryWait:
		if now.Before(rec.NextEligible) {
			return rec, fmt.Errorf("%w: %s not eligible until %s", ErrInvalidTransition, rec.Key, rec.NextEligible)
		}
		rec.State = StateQueued
		return rec, nil
	default:
		return rec, m.reject(rec, Queue{})
	}
}

func (m *Machine) applyDispatch(rec Record, now time.Time) (Record, error) {
	if rec.State != StateQueued {
		return rec, m.reject(rec, Dispatch{})
	}

	rec.State = StateGenerating
	rec.LastAttempt = now
	return rec, nil
}

func (m *Machine) applyGenerateOK(rec Record, e GenerateOK, now time.Time) (Record, error) {
	if rec.State != StateGenerating {
		return rec, m.reject(rec, e)
	}

	rec.State = StateSubmitting
	rec.ArtifactID = e.ArtifactID
	return rec, nil
}

func (m *Machine) applySubmitOK(rec Record, now time.Time) (Record, error) {
	if rec.State != StateSubmitting {
		return rec, m.reject(rec, SubmitOK{})
	}

	rec.State = StateSubmitted
	rec.SubmittedAt = now
	rec.Reason = ""
	return rec, nil
}

func (m *Machine) applySubmitFail(rec Record, e SubmitFail, now time.Time) (Record, error) {
	if rec.State != StateSubmitting {
		return rec, m.reject(rec, e)
	}

	if !e.Retryable {
		rec.State = StateFailed
		rec.Reason = errText(e.Err)
		return rec, nil
	}

	return m.retryOrFail(rec, StateSubmitting, e.Err, now)
}

// retryOrFail counts the failed attempt and moves the record into retry_wait,
// or into failed(exhausted) once the attempt cap is reached. Attempt counts
// only ever grow.
func (m *Machine) retryOrFail(rec Record, from State, cause error, now time.Time) (Record, error) {
	if rec.State != from {
		return rec, m.reject(rec, SubmitFail{Err: cause})
	}

	rec.Attempts++
	if rec.Attempts >= m.maxAttempts {
		rec.State = StateFailed
		rec.Reason = ReasonExhausted
		return rec, nil
	}

	rec.State = StateRetryWait
	rec.NextEligible = now.Add(m.backoff(rec.Attempts))
	rec.Reason = errText(cause)
	return rec, nil
}

func (m *Machine) applyRateLimited(rec Record, e RateLimited, now time.Time) (Record, error) {
	switch rec.State {
	case StateQueued, StateGenerating, StateSubmitting, StateRetryWait:
	default:
		return rec, m.reject(rec, e)
	}

	// Deferrals are not failures: no attempt increment, no reason.
	rec.State = StateQueued
	deadline := now.Add(e.Cooldown)
	if deadline.After(rec.NextEligible) {
		rec.NextEligible = deadline
	}
	return rec, nil
}

func (m *Machine) applySkip(rec Record, e Skip, now time.Time) (Record, error) {
	switch rec.State {
	case StateScored, StateQueued:
		rec.State = StateSkipped
		rec.Reason = e.Reason
		return rec, nil
	default:
		return rec, m.reject(rec, e)
	}
}

func (m *Machine) reject(rec Record, ev Event) error {
	return fmt.Errorf("%w: event %q in state %q for %s", ErrInvalidTransition, ev.Name(), rec.State, rec.Key)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
