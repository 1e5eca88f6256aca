// Package ledger is the durable record of every posting ever seen and every
// application attempt. It is the single source of truth the scheduler
// consults before acting, and the only component allowed to mutate
// application records.
package ledger

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/application"
	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/match"
)

//go:embed schema.sql
var schema string

// ErrUnknownRecord is returned when no application record exists for a key.
var ErrUnknownRecord = errors.New("unknown application record")

// Ledger wraps the sqlite database. Mutations go through a single-writer
// mutex; reads are concurrent snapshots.
type Ledger struct {
	db      *sql.DB
	machine *application.Machine
	logger  *zap.Logger

	mu sync.Mutex
}

// Open opens (or creates) the ledger at the given path, applies the schema
// and resets crash-interrupted records: anything left in generating or
// submitting is treated as interrupted mid-flight and re-queued with its
// attempt count incremented, or exhausted when that reaches the cap.
func Open(path string, machine *application.Machine, logger *zap.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// sqlite wants a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}

	l := &Ledger{db: db, machine: machine, logger: logger}

	if err := l.recoverInterrupted(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) recoverInterrupted() error {
	now := time.Now().UnixNano()

	// The lost attempt counts. Records already at the cap exhaust here
	// instead of taking another run through the queue.
	res, err := l.db.Exec(
		`UPDATE applications SET state = ?, attempts = attempts + 1, reason = ?, updated_at = ?
		 WHERE state IN (?, ?) AND attempts + 1 >= ?`,
		application.StateFailed, application.ReasonExhausted, now,
		application.StateGenerating, application.StateSubmitting, l.machine.MaxAttempts(),
	)
	if err != nil {
		return fmt.Errorf("recover interrupted records: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		l.logger.Warn("crash-interrupted applications exhausted their attempts", zap.Int64("count", n))
	}

	res, err = l.db.Exec(
		`UPDATE applications SET state = ?, attempts = attempts + 1, updated_at = ?
		 WHERE state IN (?, ?)`,
		application.StateQueued, now,
		application.StateGenerating, application.StateSubmitting,
	)
	if err != nil {
		return fmt.Errorf("recover interrupted records: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		l.logger.Warn("re-queued crash-interrupted applications", zap.Int64("count", n))
	}
	return nil
}

// UpsertPosting stores the posting if its key is unseen and creates the
// matching application record in the discovered state. Re-discovery of a
// known key is a no-op and reports isNew=false.
func (l *Ledger) UpsertPosting(p *job.Posting) (bool, error) {
	if !p.Key.Valid() {
		return false, fmt.Errorf("upsert posting: invalid key %q", p.Key)
	}

	embedding, err := json.Marshal(p.Embedding)
	if err != nil {
		return false, fmt.Errorf("marshal embedding: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Posting and application rows land together or not at all; a posting
	// without a record would dodge ingestion forever.
	tx, err := l.db.Begin()
	if err != nil {
		return false, fmt.Errorf("insert posting %s: %w", p.Key, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO postings
		 (platform, posting_id, title, company, location, description, embedding, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Key.Platform, p.Key.ID, p.Title, p.Company, p.Location, p.Description,
		string(embedding), p.DiscoveredAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("insert posting %s: %w", p.Key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert posting %s: %w", p.Key, err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.Exec(
		`INSERT INTO applications (platform, posting_id, state, updated_at)
		 VALUES (?, ?, ?, ?)`,
		p.Key.Platform, p.Key.ID, application.StateDiscovered, time.Now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("insert application record %s: %w", p.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("insert posting %s: %w", p.Key, err)
	}
	return true, nil
}

// HasPosting reports whether the key was already ingested.
func (l *Ledger) HasPosting(key job.Key) (bool, error) {
	var one int
	err := l.db.QueryRow(
		`SELECT 1 FROM postings WHERE platform = ? AND posting_id = ?`,
		key.Platform, key.ID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check posting %s: %w", key, err)
	}
	return true, nil
}

// GetPosting loads a stored posting.
func (l *Ledger) GetPosting(key job.Key) (*job.Posting, error) {
	var p job.Posting
	var embedding string
	var discovered int64

	err := l.db.QueryRow(
		`SELECT title, company, location, description, embedding, discovered_at
		 FROM postings WHERE platform = ? AND posting_id = ?`,
		key.Platform, key.ID,
	).Scan(&p.Title, &p.Company, &p.Location, &p.Description, &embedding, &discovered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("posting %s: %w", key, ErrUnknownRecord)
	}
	if err != nil {
		return nil, fmt.Errorf("get posting %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(embedding), &p.Embedding); err != nil {
		return nil, fmt.Errorf("unmarshal embedding for %s: %w", key, err)
	}

	p.Key = key
	p.DiscoveredAt = time.Unix(0, discovered)
	return &p, nil
}

// RecordScore applies the score to the record, retiring it when below the
// threshold.
func (l *Ledger) RecordScore(key job.Key, score match.Score, now time.Time) (application.Record, error) {
	return l.Transition(key, application.Scored{Score: score}, now)
}

// Transition applies the event to the record through the state machine and
// persists the result. The read-modify-write runs under the single-writer
// mutex so concurrent scoring and scheduling never race on one record.
func (l *Ledger) Transition(key job.Key, ev application.Event, now time.Time) (application.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(key)
	if err != nil {
		return application.Record{}, err
	}

	next, err := l.machine.Apply(rec, ev, now)
	if err != nil {
		return rec, err
	}

	if err := l.persist(next, now); err != nil {
		return rec, err
	}
	return next, nil
}

func (l *Ledger) persist(rec application.Record, now time.Time) error {
	pass := 0
	if rec.Score.Pass {
		pass = 1
	}

	_, err := l.db.Exec(
		`UPDATE applications SET
		 state = ?, attempts = ?, cosine = ?, rules = ?, combined = ?, pass = ?,
		 last_attempt_at = ?, next_eligible_at = ?, submitted_at = ?,
		 reason = ?, artifact_id = ?, updated_at = ?
		 WHERE platform = ? AND posting_id = ?`,
		rec.State, rec.Attempts, rec.Score.Cosine, rec.Score.Rules, rec.Score.Combined, pass,
		unixOrZero(rec.LastAttempt), unixOrZero(rec.NextEligible), unixOrZero(rec.SubmittedAt),
		rec.Reason, rec.ArtifactID, now.UnixNano(),
		rec.Key.Platform, rec.Key.ID,
	)
	if err != nil {
		return fmt.Errorf("persist record %s: %w", rec.Key, err)
	}
	return nil
}

// Get returns a copy of the application record.
func (l *Ledger) Get(key job.Key) (application.Record, error) {
	return l.get(key)
}

func (l *Ledger) get(key job.Key) (application.Record, error) {
	rec := application.Record{Key: key}
	var state string
	var pass int
	var lastAttempt, nextEligible, submitted int64

	err := l.db.QueryRow(
		`SELECT state, attempts, cosine, rules, combined, pass,
		 last_attempt_at, next_eligible_at, submitted_at, reason, artifact_id
		 FROM applications WHERE platform = ? AND posting_id = ?`,
		key.Platform, key.ID,
	).Scan(&state, &rec.Attempts, &rec.Score.Cosine, &rec.Score.Rules, &rec.Score.Combined, &pass,
		&lastAttempt, &nextEligible, &submitted, &rec.Reason, &rec.ArtifactID)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("record %s: %w", key, ErrUnknownRecord)
	}
	if err != nil {
		return rec, fmt.Errorf("get record %s: %w", key, err)
	}

	rec.State = application.State(state)
	if !rec.State.Valid() {
		return rec, fmt.Errorf("record %s has unknown state %q", key, state)
	}

	rec.Score.Key = key
	rec.Score.Pass = pass == 1
	rec.LastAttempt = timeOrZero(lastAttempt)
	rec.NextEligible = timeOrZero(nextEligible)
	rec.SubmittedAt = timeOrZero(submitted)
	return rec, nil
}

// GetEligible returns keys awaiting dispatch: scored or queued records above
// the threshold whose deferral deadline has passed, ordered by descending
// combined score then ascending discovery time. This ordering is the sole
// scheduling priority policy.
func (l *Ledger) GetEligible(now time.Time, limit int) ([]job.Key, error) {
	rows, err := l.db.Query(
		`SELECT a.platform, a.posting_id FROM applications a
		 JOIN postings p ON p.platform = a.platform AND p.posting_id = a.posting_id
		 WHERE a.state IN (?, ?) AND a.pass = 1 AND a.next_eligible_at <= ?
		 ORDER BY a.combined DESC, a.cosine DESC, p.discovered_at ASC
		 LIMIT ?`,
		application.StateScored, application.StateQueued, now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get eligible: %w", err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

// DueForRetry returns retry_wait records whose backoff deadline has passed.
func (l *Ledger) DueForRetry(now time.Time) ([]job.Key, error) {
	rows, err := l.db.Query(
		`SELECT platform, posting_id FROM applications
		 WHERE state = ? AND next_eligible_at <= ?`,
		application.StateRetryWait, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("due for retry: %w", err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

// QueuedByPlatform returns all queued records for one platform. Used by the
// circuit breaker to defer them after a detection signal.
func (l *Ledger) QueuedByPlatform(platform string) ([]job.Key, error) {
	rows, err := l.db.Query(
		`SELECT platform, posting_id FROM applications
		 WHERE platform = ? AND state = ?`,
		platform, application.StateQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("queued by platform %s: %w", platform, err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

// CapUsage counts applications that consume daily-cap budget: anything
// submitted within the window plus everything currently in flight.
func (l *Ledger) CapUsage(since time.Time) (int, error) {
	var count int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM applications
		 WHERE (state = ? AND submitted_at >= ?) OR state IN (?, ?)`,
		application.StateSubmitted, since.UnixNano(),
		application.StateGenerating, application.StateSubmitting,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cap usage: %w", err)
	}
	return count, nil
}

func scanKeys(rows *sql.Rows) ([]job.Key, error) {
	var keys []job.Key
	for rows.Next() {
		var k job.Key
		if err := rows.Scan(&k.Platform, &k.ID); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
