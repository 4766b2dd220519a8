// Package postgres implements the durable frontier store on PostgreSQL.
// The claim operation is a single atomic read-modify-write using
// FOR UPDATE SKIP LOCKED, so the store stays correct even if it is later
// shared by multiple processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/frontier"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS frontier_entries (
	normalized_url  TEXT PRIMARY KEY,
	fingerprint     TEXT NOT NULL DEFAULT '',
	domain          TEXT NOT NULL,
	priority        INTEGER NOT NULL,
	depth           INTEGER NOT NULL,
	state           TEXT NOT NULL DEFAULT 'pending',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	eligible_at     TIMESTAMPTZ NOT NULL,
	discovered_at   TIMESTAMPTZ NOT NULL,
	last_attempt_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	parent_url      TEXT NOT NULL DEFAULT '',
	error_text      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_frontier_claim
	ON frontier_entries (state, priority DESC, discovered_at ASC);
`

const entryColumns = `normalized_url, fingerprint, domain, priority, depth, state,
	attempt_count, eligible_at, discovered_at, last_attempt_at, parent_url`

// dbPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store is the Postgres-backed frontier store.
type Store struct {
	pool dbPool
}

// Open connects to Postgres, creates the schema if needed, and verifies
// the persisted state is readable. Any inconsistency surfaces as
// frontier.ErrCorrupt; the run must not start on such a store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("frontier.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse frontier dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbPool) *Store {
	return &Store{pool: pool}
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: create schema: %v", frontier.ErrCorrupt, err)
	}
	return s.verify(ctx)
}

// verify checks the persisted rows for internal consistency.
func (s *Store) verify(ctx context.Context) error {
	var bad int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM frontier_entries
		WHERE state NOT IN ('pending','in_progress','deferred','done','failed')
		   OR normalized_url = ''
		   OR depth < 0
		   OR attempt_count < 0`).Scan(&bad)
	if err != nil {
		return fmt.Errorf("%w: integrity query: %v", frontier.ErrCorrupt, err)
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d inconsistent rows", frontier.ErrCorrupt, bad)
	}
	return nil
}

// Insert adds a new pending entry.
func (s *Store) Insert(ctx context.Context, e crawl.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frontier_entries
			(normalized_url, fingerprint, domain, priority, depth, state,
			 attempt_count, eligible_at, discovered_at, parent_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.NormalizedURL, e.Fingerprint, e.Domain, e.Priority, e.Depth,
		string(e.State), e.AttemptCount, e.EligibleAt, e.DiscoveredAt, e.ParentURL,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return frontier.ErrDuplicate
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Get loads one entry by its normalized URL.
func (s *Store) Get(ctx context.Context, normalizedURL string) (crawl.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM frontier_entries
		WHERE normalized_url = $1`, normalizedURL)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Entry{}, frontier.ErrNotFound
		}
		return crawl.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// RaisePriority lifts an entry's priority, never lowering it.
func (s *Store) RaisePriority(ctx context.Context, normalizedURL string, priority int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE frontier_entries
		SET priority = GREATEST(priority, $2)
		WHERE normalized_url = $1`, normalizedURL, priority)
	if err != nil {
		return fmt.Errorf("raise priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return frontier.ErrNotFound
	}
	return nil
}

// ClaimNext atomically claims the best eligible entry. SKIP LOCKED keeps
// concurrent claimers from ever selecting the same row.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, blockedDomains []string) (crawl.Entry, bool, error) {
	if blockedDomains == nil {
		blockedDomains = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE frontier_entries
		SET state = 'in_progress',
		    attempt_count = attempt_count + 1,
		    last_attempt_at = $1
		WHERE normalized_url = (
			SELECT normalized_url
			FROM frontier_entries
			WHERE state IN ('pending','deferred')
			  AND eligible_at <= $1
			  AND NOT (domain = ANY($2))
			ORDER BY priority DESC, discovered_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryColumns, now, blockedDomains)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Entry{}, false, nil
		}
		return crawl.Entry{}, false, fmt.Errorf("claim next: %w", err)
	}
	return e, true, nil
}

// MarkDone finishes an entry and stores its content fingerprint.
func (s *Store) MarkDone(ctx context.Context, normalizedURL, fingerprint string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE frontier_entries
		SET state = 'done', fingerprint = $2
		WHERE normalized_url = $1`, normalizedURL, fingerprint)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return frontier.ErrNotFound
	}
	return nil
}

// Defer parks an entry for a retry at eligibleAt.
func (s *Store) Defer(ctx context.Context, normalizedURL string, eligibleAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE frontier_entries
		SET state = 'deferred', eligible_at = $2
		WHERE normalized_url = $1`, normalizedURL, eligibleAt)
	if err != nil {
		return fmt.Errorf("defer entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return frontier.ErrNotFound
	}
	return nil
}

// MarkFailed moves an entry to the terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, normalizedURL, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE frontier_entries
		SET state = 'failed', error_text = $2
		WHERE normalized_url = $1`, normalizedURL, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return frontier.ErrNotFound
	}
	return nil
}

// ReleaseStale requeues abandoned claims in one statement, splitting them
// between pending and failed by remaining retry budget.
func (s *Store) ReleaseStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int, int, error) {
	var requeued, failed int
	err := s.pool.QueryRow(ctx, `
		WITH released AS (
			UPDATE frontier_entries
			SET state = CASE WHEN attempt_count < $2 THEN 'pending' ELSE 'failed' END,
			    eligible_at = CASE WHEN attempt_count < $2 THEN $1 ELSE eligible_at END,
			    error_text = CASE WHEN attempt_count < $2 THEN error_text ELSE 'lease expired' END
			WHERE state = 'in_progress' AND last_attempt_at <= $1
			RETURNING state
		)
		SELECT
			COUNT(*) FILTER (WHERE state = 'pending'),
			COUNT(*) FILTER (WHERE state = 'failed')
		FROM released`, cutoff, maxAttempts).Scan(&requeued, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("release stale: %w", err)
	}
	return requeued, failed, nil
}

// NextEligibleAt returns the earliest eligibility among queued entries.
func (s *Store) NextEligibleAt(ctx context.Context) (time.Time, bool, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(eligible_at)
		FROM frontier_entries
		WHERE state IN ('pending','deferred')`).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next eligible: %w", err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

// Counts tallies entries per state.
func (s *Store) Counts(ctx context.Context) (frontier.Counts, error) {
	var c frontier.Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'pending'),
			COUNT(*) FILTER (WHERE state = 'in_progress'),
			COUNT(*) FILTER (WHERE state = 'deferred'),
			COUNT(*) FILTER (WHERE state = 'done'),
			COUNT(*) FILTER (WHERE state = 'failed')
		FROM frontier_entries`).Scan(
		&c.Pending, &c.InProgress, &c.Deferred, &c.Done, &c.Failed)
	if err != nil {
		return frontier.Counts{}, fmt.Errorf("counts: %w", err)
	}
	return c, nil
}

// Reset discards all persisted entries.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE frontier_entries`); err != nil {
		return fmt.Errorf("reset frontier: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close(_ context.Context) error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanEntry(row pgx.Row) (crawl.Entry, error) {
	var e crawl.Entry
	var state string
	err := row.Scan(
		&e.NormalizedURL, &e.Fingerprint, &e.Domain, &e.Priority, &e.Depth,
		&state, &e.AttemptCount, &e.EligibleAt, &e.DiscoveredAt,
		&e.LastAttemptAt, &e.ParentURL,
	)
	if err != nil {
		return crawl.Entry{}, err
	}
	e.State = crawl.State(state)
	return e, nil
}
