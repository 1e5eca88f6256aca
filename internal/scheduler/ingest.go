package scheduler

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/embedding"
	"github.com/spigell/apply-pilot/internal/job"
)

// Ingest scores and records a batch of discovered postings with bounded
// parallelism. Scoring is pure and cheap; the embedding call is the only
// blocking step. Returns the number of newly recorded postings.
func (s *Scheduler) Ingest(ctx context.Context, batch []job.Raw) int {
	var added atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.IngestWorkers)

	for _, raw := range batch {
		g.Go(func() error {
			if s.ingestOne(ctx, raw) {
				added.Add(1)
			}
			return nil
		})
	}

	// Workers log and swallow their own errors; one bad posting never aborts
	// the batch.
	_ = g.Wait()

	s.count(func(c *counters) { c.Ingested += added.Load() })
	return int(added.Load())
}

func (s *Scheduler) ingestOne(ctx context.Context, raw job.Raw) bool {
	key := raw.Key()
	log := s.logger.With(zap.String("key", key.String()))

	if !key.Valid() {
		log.Warn("dropping posting with incomplete key",
			zap.String("title", raw.Title),
			zap.String("company", raw.Company),
		)
		return false
	}

	if _, excluded := s.excluded[normalizeEmployer(raw.Company)]; excluded {
		log.Debug("skipping excluded employer", zap.String("company", raw.Company))
		return false
	}

	// Known keys are settled; skip before paying for an embedding.
	known, err := s.ledger.HasPosting(key)
	if err != nil {
		log.Error("checking posting", zap.Error(err))
		return false
	}
	if known {
		return false
	}

	vector, err := s.embedder.Embed(ctx, raw.Text())
	if err != nil {
		// Transient failures leave the posting un-ingested; the next feed
		// poll retries it. Nothing advances state on an embedding error.
		if embedding.IsTransient(err) {
			log.Warn("embedding temporarily unavailable", zap.Error(err))
		} else {
			log.Error("embedding posting", zap.Error(err))
		}
		return false
	}

	posting, err := job.FromRaw(raw, vector, s.now())
	if err != nil {
		log.Error("building posting", zap.Error(err))
		return false
	}

	isNew, err := s.ledger.UpsertPosting(posting)
	if err != nil {
		log.Error("storing posting", zap.Error(err))
		return false
	}
	if !isNew {
		return false
	}

	score := s.engine.Score(s.profile, posting)

	rec, err := s.ledger.RecordScore(key, score, s.now())
	if err != nil {
		log.Error("recording score", zap.Error(err))
		return true
	}

	if rec.State == application.StateScored {
		if _, err := s.ledger.Transition(key, application.Queue{}, s.now()); err != nil {
			log.Error("queueing scored posting", zap.Error(err))
		}
	}

	log.Info("posting ingested",
		zap.String("title", raw.Title),
		zap.String("company", raw.Company),
		zap.Float64("combined", score.Combined),
		zap.Bool("pass", score.Pass),
	)

	return true
}

// pollFeeds fetches every registered feed once and ingests the results.
func (s *Scheduler) pollFeeds(ctx context.Context) {
	for _, feed := range s.feeds {
		if ctx.Err() != nil {
			return
		}

		items, err := feed.Fetch(ctx)
		if err != nil {
			s.logger.Warn("feed fetch failed", zap.String("feed", feed.Name()), zap.Error(err))
			continue
		}

		added := s.Ingest(ctx, items)
		s.logger.Info("feed polled",
			zap.String("feed", feed.Name()),
			zap.Int("fetched", len(items)),
			zap.Int("added", added),
		)
	}
}

func normalizeEmployer(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
