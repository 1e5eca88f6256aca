package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/job"
)

// submitWorker drives one granted application through generation and
// submission. It enters holding the platform gate in the generating state and
// releases the gate on every exit path.
func (s *Scheduler) submitWorker(ctx context.Context, key job.Key, gate *gate) {
	defer s.wg.Done()
	defer gate.release()

	log := s.logger.With(zap.String("key", key.String()), zap.String("platform", key.Platform))

	posting, err := s.ledger.GetPosting(key)
	if err != nil {
		log.Error("loading posting for submission", zap.Error(err))
		s.park(key, log)
		return
	}

	// Mandatory pacing before the first platform-level action.
	if err := waitFor(ctx, s.pacing.Delay()); err != nil {
		s.park(key, log)
		return
	}

	letter, err := s.generator.ComposeLetter(ctx, s.profile, posting)
	if ctx.Err() != nil {
		// Cancellation parks the record; it is not a generation failure.
		s.park(key, log)
		return
	}
	if err != nil {
		log.Warn("cover letter generation failed", zap.Error(err))
		s.transition(key, application.GenerateFail{Err: err}, log)
		return
	}

	if _, err := s.ledger.Transition(key, application.GenerateOK{ArtifactID: letter.ID}, s.now()); err != nil {
		// A record stuck in generating would hold a daily-cap slot forever.
		log.Error("recording generated artifact", zap.Error(err))
		s.park(key, log)
		return
	}

	if err := waitFor(ctx, s.pacing.Delay()); err != nil {
		s.park(key, log)
		return
	}
	if err := gate.limiter.Wait(ctx); err != nil {
		s.park(key, log)
		return
	}

	submitter := s.submitters[key.Platform]
	outcome, err := submitter.Submit(ctx, posting, letter)
	if ctx.Err() != nil && outcome != OutcomeOK {
		s.park(key, log)
		return
	}

	switch outcome {
	case OutcomeOK:
		s.transition(key, application.SubmitOK{}, log)
		log.Info("application submitted", zap.String("artifact_id", letter.ID))
	case OutcomeRetryable:
		log.Warn("submission failed, will retry", zap.Error(err))
		s.transition(key, application.SubmitFail{Err: err, Retryable: true}, log)
	case OutcomeFatal:
		log.Warn("submission failed permanently", zap.Error(err))
		s.transition(key, application.SubmitFail{Err: err, Retryable: false}, log)
	case OutcomeDetected:
		// Detection is a platform event, not a defect of this application:
		// the record goes back to the queue behind the cooldown.
		log.Warn("submission blocked by platform detection", zap.Error(err))
		s.transition(key, application.RateLimited{Cooldown: s.cfg.DetectionCooldown}, log)
		s.tripBreaker(key.Platform, s.now())
	default:
		log.Error("submitter returned unknown outcome", zap.Int("outcome", int(outcome)))
		s.transition(key, application.SubmitFail{Err: err, Retryable: true}, log)
	}
}

// park returns an in-flight record to the queue after cancellation or an
// internal fault, so no spurious failure is manufactured.
func (s *Scheduler) park(key job.Key, log *zap.Logger) {
	s.count(func(c *counters) { c.Parked++ })

	if _, err := s.ledger.Transition(key, application.RateLimited{}, s.now()); err != nil &&
		!errors.Is(err, application.ErrInvalidTransition) {
		log.Error("parking in-flight record", zap.Error(err))
	}
}

func (s *Scheduler) transition(key job.Key, ev application.Event, log *zap.Logger) {
	rec, err := s.ledger.Transition(key, ev, s.now())
	if err != nil {
		// Integrity faults are surfaced loudly but never crash the loop or
		// touch other records.
		log.Error("state transition rejected",
			zap.String("event", ev.Name()),
			zap.Error(err),
		)
		return
	}

	if rec.State == application.StateRetryWait {
		log.Info("application deferred for retry",
			zap.Int("attempts", rec.Attempts),
			zap.Time("next_eligible", rec.NextEligible),
		)
	}
	if rec.State == application.StateFailed {
		log.Warn("application failed", zap.String("reason", rec.Reason), zap.Int("attempts", rec.Attempts))
	}
}
