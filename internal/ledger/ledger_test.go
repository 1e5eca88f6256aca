package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/match"
)

func testMachine() *application.Machine {
	return application.NewMachine(3, func(attempt int) time.Duration {
		return time.Duration(attempt) * time.Minute
	})
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := Open(":memory:", testMachine(), zap.NewNop())
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return l
}

func testPosting(id string, discoveredAt time.Time) *job.Posting {
	return &job.Posting{
		Key:          job.Key{Platform: "headhunter", ID: id},
		Title:        "Go Developer",
		Company:      "Acme",
		Location:     "Berlin",
		Description:  "Build services",
		Embedding:    []float64{0.1, 0.2, 0.3},
		DiscoveredAt: discoveredAt,
	}
}

func score(key job.Key, combined float64, pass bool) match.Score {
	return match.Score{Key: key, Cosine: combined, Rules: combined, Combined: combined, Pass: pass}
}

// ingest stores the posting and applies its score.
func ingest(t *testing.T, l *Ledger, p *job.Posting, combined float64, pass bool, now time.Time) {
	t.Helper()

	isNew, err := l.UpsertPosting(p)
	if err != nil {
		t.Fatalf("upserting %s: %v", p.Key, err)
	}
	if !isNew {
		t.Fatalf("expected %s to be new", p.Key)
	}

	if _, err := l.RecordScore(p.Key, score(p.Key, combined, pass), now); err != nil {
		t.Fatalf("scoring %s: %v", p.Key, err)
	}
}

func TestUpsertPostingIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	p := testPosting("1", time.Unix(100, 0))

	isNew, err := l.UpsertPosting(p)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !isNew {
		t.Fatalf("first upsert must report a new posting")
	}

	isNew, err = l.UpsertPosting(p)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if isNew {
		t.Fatalf("re-discovery must be a no-op")
	}

	rec, err := l.Get(p.Key)
	if err != nil {
		t.Fatalf("getting record: %v", err)
	}
	if rec.State != application.StateDiscovered {
		t.Fatalf("expected discovered, got %s", rec.State)
	}
}

func TestUpsertPostingRejectsInvalidKey(t *testing.T) {
	l := openTestLedger(t)

	p := testPosting("", time.Unix(0, 0))
	if _, err := l.UpsertPosting(p); err == nil {
		t.Fatalf("expected error for incomplete key")
	}
}

func TestGetUnknownRecord(t *testing.T) {
	l := openTestLedger(t)

	if _, err := l.Get(job.Key{Platform: "headhunter", ID: "missing"}); !errors.Is(err, ErrUnknownRecord) {
		t.Fatalf("expected ErrUnknownRecord, got %v", err)
	}
	if _, err := l.GetPosting(job.Key{Platform: "headhunter", ID: "missing"}); !errors.Is(err, ErrUnknownRecord) {
		t.Fatalf("expected ErrUnknownRecord for posting, got %v", err)
	}
}

func TestGetPostingRoundTrip(t *testing.T) {
	l := openTestLedger(t)

	discovered := time.Unix(100, 500)
	p := testPosting("1", discovered)
	if _, err := l.UpsertPosting(p); err != nil {
		t.Fatalf("upserting: %v", err)
	}

	got, err := l.GetPosting(p.Key)
	if err != nil {
		t.Fatalf("getting posting: %v", err)
	}

	if got.Title != p.Title || got.Company != p.Company || got.Location != p.Location {
		t.Fatalf("posting fields lost in round trip: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Fatalf("embedding lost in round trip: %v", got.Embedding)
	}
	if !got.DiscoveredAt.Equal(discovered) {
		t.Fatalf("expected discovered_at %s, got %s", discovered, got.DiscoveredAt)
	}
}

func TestEligibilityOrderingAndThreshold(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	ingest(t, l, testPosting("low", now.Add(-3*time.Hour)), 0.82, true, now)
	ingest(t, l, testPosting("high", now.Add(-1*time.Hour)), 0.95, true, now)
	ingest(t, l, testPosting("mid", now.Add(-2*time.Hour)), 0.90, true, now)
	ingest(t, l, testPosting("below", now.Add(-4*time.Hour)), 0.40, false, now)

	keys, err := l.GetEligible(now, 10)
	if err != nil {
		t.Fatalf("getting eligible: %v", err)
	}

	want := []string{"high", "mid", "low"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d eligible, got %d: %v", len(want), len(keys), keys)
	}
	for i, id := range want {
		if keys[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, keys[i].ID)
		}
	}
}

func TestEligibilityTieBreaksOnDiscovery(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	ingest(t, l, testPosting("later", now.Add(-1*time.Hour)), 0.9, true, now)
	ingest(t, l, testPosting("earlier", now.Add(-2*time.Hour)), 0.9, true, now)

	keys, err := l.GetEligible(now, 10)
	if err != nil {
		t.Fatalf("getting eligible: %v", err)
	}

	if len(keys) != 2 || keys[0].ID != "earlier" {
		t.Fatalf("expected earlier discovery first, got %v", keys)
	}
}

func TestEligibilityHonorsDeferralDeadline(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	p := testPosting("1", now)
	ingest(t, l, p, 0.9, true, now)

	if _, err := l.Transition(p.Key, application.Queue{}, now); err != nil {
		t.Fatalf("queueing: %v", err)
	}
	if _, err := l.Transition(p.Key, application.RateLimited{Cooldown: time.Hour}, now); err != nil {
		t.Fatalf("deferring: %v", err)
	}

	keys, err := l.GetEligible(now, 10)
	if err != nil {
		t.Fatalf("getting eligible: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("deferred record must not be eligible, got %v", keys)
	}

	keys, err = l.GetEligible(now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("getting eligible after cooldown: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected the record back after the cooldown, got %v", keys)
	}
}

func TestTransitionPersistsAcrossReads(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	p := testPosting("1", now)
	ingest(t, l, p, 0.9, true, now)

	for _, ev := range []application.Event{
		application.Queue{},
		application.Dispatch{},
		application.GenerateOK{ArtifactID: "letter-9"},
		application.SubmitOK{},
	} {
		if _, err := l.Transition(p.Key, ev, now); err != nil {
			t.Fatalf("applying %s: %v", ev.Name(), err)
		}
	}

	rec, err := l.Get(p.Key)
	if err != nil {
		t.Fatalf("getting record: %v", err)
	}

	if rec.State != application.StateSubmitted {
		t.Fatalf("expected submitted, got %s", rec.State)
	}
	if rec.ArtifactID != "letter-9" {
		t.Fatalf("artifact reference lost, got %q", rec.ArtifactID)
	}
	if !rec.SubmittedAt.Equal(now) {
		t.Fatalf("expected submitted_at %s, got %s", now, rec.SubmittedAt)
	}
	if rec.Score.Combined != 0.9 || !rec.Score.Pass {
		t.Fatalf("score columns lost, got %+v", rec.Score)
	}
}

func TestInvalidTransitionLeavesRecordUntouched(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	p := testPosting("1", now)
	ingest(t, l, p, 0.9, true, now)

	if _, err := l.Transition(p.Key, application.SubmitOK{}, now); !errors.Is(err, application.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	rec, err := l.Get(p.Key)
	if err != nil {
		t.Fatalf("getting record: %v", err)
	}
	if rec.State != application.StateScored {
		t.Fatalf("rejected event must not persist, got %s", rec.State)
	}
}

func TestDueForRetry(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	p := testPosting("1", now)
	ingest(t, l, p, 0.9, true, now)

	for _, ev := range []application.Event{
		application.Queue{},
		application.Dispatch{},
		application.GenerateFail{Err: errors.New("timeout")},
	} {
		if _, err := l.Transition(p.Key, ev, now); err != nil {
			t.Fatalf("applying %s: %v", ev.Name(), err)
		}
	}

	due, err := l.DueForRetry(now)
	if err != nil {
		t.Fatalf("due for retry: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("backoff still pending, expected nothing due, got %v", due)
	}

	// backoff(1) is one minute in the test machine.
	due, err = l.DueForRetry(now.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("due for retry after backoff: %v", err)
	}
	if len(due) != 1 || due[0] != p.Key {
		t.Fatalf("expected %s due, got %v", p.Key, due)
	}
}

func TestCapUsageCountsWindowAndInFlight(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	submit := func(id string, at time.Time) {
		p := testPosting(id, now)
		ingest(t, l, p, 0.9, true, now)
		for _, ev := range []application.Event{
			application.Queue{},
			application.Dispatch{},
			application.GenerateOK{ArtifactID: "a"},
			application.SubmitOK{},
		} {
			if _, err := l.Transition(p.Key, ev, at); err != nil {
				t.Fatalf("submitting %s: %v", id, err)
			}
		}
	}

	submit("recent", now)
	submit("old", now.Add(-48*time.Hour))

	inflight := testPosting("inflight", now)
	ingest(t, l, inflight, 0.9, true, now)
	for _, ev := range []application.Event{application.Queue{}, application.Dispatch{}} {
		if _, err := l.Transition(inflight.Key, ev, now); err != nil {
			t.Fatalf("dispatching inflight: %v", err)
		}
	}

	usage, err := l.CapUsage(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("cap usage: %v", err)
	}

	// The recent submission plus the generating one; the 48h-old submission
	// fell out of the window.
	if usage != 2 {
		t.Fatalf("expected usage 2, got %d", usage)
	}
}

func TestQueuedByPlatform(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	queued := testPosting("q1", now)
	ingest(t, l, queued, 0.9, true, now)
	if _, err := l.Transition(queued.Key, application.Queue{}, now); err != nil {
		t.Fatalf("queueing: %v", err)
	}

	other := &job.Posting{
		Key:          job.Key{Platform: "other", ID: "q2"},
		Title:        "Dev",
		Embedding:    []float64{0.1},
		DiscoveredAt: now,
	}
	ingest(t, l, other, 0.9, true, now)
	if _, err := l.Transition(other.Key, application.Queue{}, now); err != nil {
		t.Fatalf("queueing other platform: %v", err)
	}

	keys, err := l.QueuedByPlatform("headhunter")
	if err != nil {
		t.Fatalf("queued by platform: %v", err)
	}
	if len(keys) != 1 || keys[0] != queued.Key {
		t.Fatalf("expected only the headhunter record, got %v", keys)
	}
}

func TestCrashRecoveryRequeuesInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	now := time.Unix(1000, 0)

	l, err := Open(path, testMachine(), zap.NewNop())
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}

	p := testPosting("1", now)
	ingest(t, l, p, 0.9, true, now)
	for _, ev := range []application.Event{application.Queue{}, application.Dispatch{}} {
		if _, err := l.Transition(p.Key, ev, now); err != nil {
			t.Fatalf("applying %s: %v", ev.Name(), err)
		}
	}

	// Simulate a crash with the record mid-flight.
	if err := l.Close(); err != nil {
		t.Fatalf("closing ledger: %v", err)
	}

	reopened, err := Open(path, testMachine(), zap.NewNop())
	if err != nil {
		t.Fatalf("reopening ledger: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.Get(p.Key)
	if err != nil {
		t.Fatalf("getting record: %v", err)
	}

	if rec.State != application.StateQueued {
		t.Fatalf("expected interrupted record re-queued, got %s", rec.State)
	}
	if rec.Attempts != 1 {
		t.Fatalf("recovery must count the lost attempt, got %d", rec.Attempts)
	}
}

func TestCrashRecoveryExhaustsAtAttemptCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	now := time.Unix(1000, 0)

	l, err := Open(path, testMachine(), zap.NewNop())
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}

	p := testPosting("42", now)
	ingest(t, l, p, 0.9, true, now)

	// Two failed rounds leave the record one attempt short of the cap, then
	// a third dispatch is interrupted mid-submission.
	clock := now
	for i := 0; i < 2; i++ {
		for _, ev := range []application.Event{
			application.Queue{},
			application.Dispatch{},
			application.GenerateFail{Err: errors.New("timeout")},
		} {
			if _, err := l.Transition(p.Key, ev, clock); err != nil {
				t.Fatalf("applying %s: %v", ev.Name(), err)
			}
		}
		clock = clock.Add(time.Hour)
	}
	for _, ev := range []application.Event{
		application.Queue{},
		application.Dispatch{},
		application.GenerateOK{ArtifactID: "a"},
	} {
		if _, err := l.Transition(p.Key, ev, clock); err != nil {
			t.Fatalf("applying %s: %v", ev.Name(), err)
		}
	}

	if err := l.Close(); err != nil {
		t.Fatalf("closing ledger: %v", err)
	}

	reopened, err := Open(path, testMachine(), zap.NewNop())
	if err != nil {
		t.Fatalf("reopening ledger: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.Get(p.Key)
	if err != nil {
		t.Fatalf("getting record: %v", err)
	}

	if rec.State != application.StateFailed {
		t.Fatalf("recovery at the cap must exhaust, got %s", rec.State)
	}
	if rec.Reason != application.ReasonExhausted {
		t.Fatalf("expected exhausted, got %q", rec.Reason)
	}
	if rec.Attempts != 3 {
		t.Fatalf("attempts must stop at the cap, got %d", rec.Attempts)
	}

	keys, err := reopened.GetEligible(clock.Add(48*time.Hour), 10)
	if err != nil {
		t.Fatalf("getting eligible: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("exhausted record must not be eligible, got %v", keys)
	}
}

func TestUpsertPostingRollsBackOnRecordFailure(t *testing.T) {
	l := openTestLedger(t)
	p := testPosting("1", time.Unix(100, 0))

	// An orphan application row makes the record insert fail after the
	// posting insert succeeded.
	if _, err := l.db.Exec(
		`INSERT INTO applications (platform, posting_id, updated_at) VALUES (?, ?, 0)`,
		p.Key.Platform, p.Key.ID,
	); err != nil {
		t.Fatalf("seeding orphan record: %v", err)
	}

	if _, err := l.UpsertPosting(p); err == nil {
		t.Fatalf("expected the upsert to fail")
	}

	known, err := l.HasPosting(p.Key)
	if err != nil {
		t.Fatalf("checking posting: %v", err)
	}
	if known {
		t.Fatalf("failed upsert must not leave a posting behind")
	}
}

func TestSnapshotCounts(t *testing.T) {
	l := openTestLedger(t)
	now := time.Unix(1000, 0)

	ingest(t, l, testPosting("scored", now), 0.9, true, now)
	ingest(t, l, testPosting("skipped", now), 0.3, false, now)

	submitted := testPosting("submitted", now)
	ingest(t, l, submitted, 0.88, true, now)
	for _, ev := range []application.Event{
		application.Queue{},
		application.Dispatch{},
		application.GenerateOK{ArtifactID: "a"},
		application.SubmitOK{},
	} {
		if _, err := l.Transition(submitted.Key, ev, now); err != nil {
			t.Fatalf("submitting: %v", err)
		}
	}

	snap, err := l.Snapshot(now, 24*time.Hour)
	if err != nil {
		t.Fatalf("taking snapshot: %v", err)
	}

	if snap.ByState[string(application.StateScored)] != 1 {
		t.Fatalf("expected 1 scored, got %+v", snap.ByState)
	}
	if snap.ByState[string(application.StateSkipped)] != 1 {
		t.Fatalf("expected 1 skipped, got %+v", snap.ByState)
	}
	if snap.ByState[string(application.StateSubmitted)] != 1 {
		t.Fatalf("expected 1 submitted, got %+v", snap.ByState)
	}

	if snap.FailureReasons[application.ReasonBelowThreshold] != 1 {
		t.Fatalf("expected below_threshold reason counted, got %+v", snap.FailureReasons)
	}
	if snap.SubmittedInWindow["headhunter"] != 1 {
		t.Fatalf("expected 1 submission in window, got %+v", snap.SubmittedInWindow)
	}
	if snap.AverageSubmittedScore != 0.88 {
		t.Fatalf("expected average 0.88, got %v", snap.AverageSubmittedScore)
	}
	if snap.Eligible != 1 {
		t.Fatalf("expected 1 eligible, got %d", snap.Eligible)
	}
}
