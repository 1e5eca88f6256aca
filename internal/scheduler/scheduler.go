// Package scheduler is the concurrency core: it ingests discovered postings,
// scores them, and drives eligible applications through generation and
// submission while enforcing the daily cap, per-platform serialization and
// randomized pacing.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/ai"
	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/embedding"
	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/ledger"
	"github.com/spigell/apply-pilot/internal/match"
	"github.com/spigell/apply-pilot/internal/pacing"
	"github.com/spigell/apply-pilot/internal/profile"
)

// Outcome classifies a submission attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeFatal
	OutcomeDetected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeDetected:
		return "detected"
	default:
		return "unknown"
	}
}

// Feed produces freshly discovered postings. Each call returns a finite,
// unordered batch; deduplication is the ledger's job, not the feed's.
type Feed interface {
	Name() string
	Fetch(ctx context.Context) ([]job.Raw, error)
}

// Submitter performs the actual application on one platform. The returned
// outcome is the only failure classification the scheduler trusts.
type Submitter interface {
	Platform() string
	Submit(ctx context.Context, posting *job.Posting, letter *ai.Letter) (Outcome, error)
}

// Config holds the scheduler's throughput and pacing settings.
type Config struct {
	MaxApplicationsPerDay int
	DailyWindow           time.Duration
	DispatchInterval      time.Duration
	DispatchBatch         int
	FeedInterval          time.Duration
	IngestWorkers         int
	DetectionCooldown     time.Duration
	// ActionFloor is the hard minimum between actions on one platform,
	// enforced on top of the randomized pacing delay.
	ActionFloor       time.Duration
	ExcludedEmployers []string
}

// Scheduler owns the dispatch loop and the submission workers. Everything it
// needs is passed in at construction; it holds no ambient state.
type Scheduler struct {
	cfg        Config
	ledger     *ledger.Ledger
	engine     *match.Engine
	profile    *profile.Profile
	embedder   embedding.Embedder
	generator  ai.Generator
	submitters map[string]Submitter
	feeds      []Feed
	pacing     *pacing.Policy
	logger     *zap.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time

	gates    map[string]*gate
	excluded map[string]struct{}

	wg sync.WaitGroup

	mu       sync.Mutex
	counters counters
}

type counters struct {
	Dispatched  int64
	GateBusy    int64
	CapDeferred int64
	Parked      int64
	Ingested    int64
}

// New wires the scheduler. One gate is created per registered submitter
// platform.
func New(cfg Config, lg *ledger.Ledger, engine *match.Engine, p *profile.Profile,
	embedder embedding.Embedder, generator ai.Generator, submitters []Submitter,
	feeds []Feed, pace *pacing.Policy, log *zap.Logger,
) *Scheduler {
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = 10
	}
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = 4
	}
	if cfg.DailyWindow <= 0 {
		cfg.DailyWindow = 24 * time.Hour
	}

	s := &Scheduler{
		cfg:        cfg,
		ledger:     lg,
		engine:     engine,
		profile:    p,
		embedder:   embedder,
		generator:  generator,
		submitters: make(map[string]Submitter, len(submitters)),
		feeds:      feeds,
		pacing:     pace,
		logger:     log,
		now:        time.Now,
		gates:      make(map[string]*gate),
		excluded:   make(map[string]struct{}, len(cfg.ExcludedEmployers)),
	}

	for _, sub := range submitters {
		s.submitters[sub.Platform()] = sub
		s.gates[sub.Platform()] = newGate(cfg.ActionFloor)
	}

	for _, employer := range cfg.ExcludedEmployers {
		s.excluded[normalizeEmployer(employer)] = struct{}{}
	}

	return s
}

// Run operates the dispatch and feed-polling loops until the context is
// cancelled, then waits for in-flight workers to park their records.
func (s *Scheduler) Run(ctx context.Context) error {
	dispatch := time.NewTicker(s.cfg.DispatchInterval)
	defer dispatch.Stop()

	var feedC <-chan time.Time
	if s.cfg.FeedInterval > 0 && len(s.feeds) > 0 {
		feedTicker := time.NewTicker(s.cfg.FeedInterval)
		defer feedTicker.Stop()
		feedC = feedTicker.C

		s.pollFeeds(ctx)
	}

	s.logger.Info("scheduler started",
		zap.Duration("dispatch_interval", s.cfg.DispatchInterval),
		zap.Int("max_applications_per_day", s.cfg.MaxApplicationsPerDay),
		zap.Int("platforms", len(s.submitters)),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", zap.String("reason", "cancellation requested"))
			s.wg.Wait()
			return nil
		case <-dispatch.C:
			s.tick(ctx)
		case <-feedC:
			s.pollFeeds(ctx)
		}
	}
}

// tick runs one dispatch cycle: drain due retries, pull the eligible queue
// and hand out grants under the cap and platform gates.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.drainRetries(now)

	eligible, err := s.ledger.GetEligible(now, s.cfg.DispatchBatch)
	if err != nil {
		s.logger.Error("pulling eligible applications", zap.Error(err))
		return
	}

	for _, key := range eligible {
		if ctx.Err() != nil {
			return
		}

		usage, err := s.ledger.CapUsage(now.Add(-s.cfg.DailyWindow))
		if err != nil {
			s.logger.Error("checking daily cap", zap.Error(err))
			return
		}
		if usage >= s.cfg.MaxApplicationsPerDay {
			// Not an error: the queue simply waits for the window to move.
			s.count(func(c *counters) { c.CapDeferred++ })
			s.logger.Debug("daily cap reached", zap.Int("usage", usage))
			return
		}

		gate, ok := s.gates[key.Platform]
		if !ok {
			s.logger.Error("no submitter registered for platform", zap.String("platform", key.Platform))
			continue
		}

		if !gate.tryAcquire(now) {
			s.count(func(c *counters) { c.GateBusy++ })
			continue
		}

		if err := s.promote(key, now); err != nil {
			gate.release()
			s.logger.Error("promoting application for dispatch", zap.String("key", key.String()), zap.Error(err))
			continue
		}

		s.count(func(c *counters) { c.Dispatched++ })
		s.wg.Add(1)
		go s.submitWorker(ctx, key, gate)
	}
}

// promote moves a record from scored (or queued) into generating while the
// caller holds the platform gate.
func (s *Scheduler) promote(key job.Key, now time.Time) error {
	rec, err := s.ledger.Get(key)
	if err != nil {
		return err
	}

	if rec.State == application.StateScored {
		if rec, err = s.ledger.Transition(key, application.Queue{}, now); err != nil {
			return err
		}
	}

	_, err = s.ledger.Transition(key, application.Dispatch{}, now)
	return err
}

func (s *Scheduler) drainRetries(now time.Time) {
	due, err := s.ledger.DueForRetry(now)
	if err != nil {
		s.logger.Error("draining retry queue", zap.Error(err))
		return
	}

	for _, key := range due {
		if _, err := s.ledger.Transition(key, application.Queue{}, now); err != nil {
			s.logger.Error("re-queueing retry", zap.String("key", key.String()), zap.Error(err))
		}
	}
}

// tripBreaker closes the platform gate for the detection cooldown and defers
// every queued record of that platform. Deferrals do not count attempts.
func (s *Scheduler) tripBreaker(platform string, now time.Time) {
	gate, ok := s.gates[platform]
	if !ok {
		return
	}

	until := now.Add(s.cfg.DetectionCooldown)
	gate.trip(until)

	s.logger.Warn("detection signal: platform circuit breaker tripped",
		zap.String("platform", platform),
		zap.Time("until", until),
	)

	queued, err := s.ledger.QueuedByPlatform(platform)
	if err != nil {
		s.logger.Error("listing queued records for deferral", zap.String("platform", platform), zap.Error(err))
		return
	}

	for _, key := range queued {
		if _, err := s.ledger.Transition(key, application.RateLimited{Cooldown: s.cfg.DetectionCooldown}, now); err != nil {
			s.logger.Error("deferring queued record", zap.String("key", key.String()), zap.Error(err))
		}
	}
}

func (s *Scheduler) count(update func(*counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.counters)
}

// waitFor sleeps for the duration unless the context is cancelled first.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
