// Package postgres persists chunk records for retrieval. Inserts are
// idempotent on chunk_id, so re-indexing an unchanged source is a no-op.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id            TEXT PRIMARY KEY,
	source_id           TEXT NOT NULL,
	sequence_index      INTEGER NOT NULL,
	text                TEXT NOT NULL,
	token_count         INTEGER NOT NULL,
	heading_path        TEXT[] NOT NULL DEFAULT '{}',
	overlap_token_count INTEGER NOT NULL DEFAULT 0,
	metadata            JSONB NOT NULL DEFAULT '{}',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chunks_source
	ON chunks (source_id, sequence_index);
`

// dbPool is the subset of pgxpool.Pool the store uses; pgxmock
// satisfies it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the chunk store connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store implements crawl.ChunkSink on PostgreSQL.
type Store struct {
	pool dbPool
}

// Open connects and ensures the chunk schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse sink dsn: %w", err)
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
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create chunk schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbPool) *Store {
	return &Store{pool: pool}
}

// StoreChunks inserts the batch. Conflicting chunk ids are skipped:
// identical input produced identical ids, so the rows already hold the
// same text.
func (s *Store) StoreChunks(ctx context.Context, records []crawl.ChunkRecord) error {
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ChunkID, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO chunks
				(chunk_id, source_id, sequence_index, text, token_count,
				 heading_path, overlap_token_count, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (chunk_id) DO NOTHING`,
			rec.ChunkID, rec.SourceID, rec.SequenceIndex, rec.Text,
			rec.TokenCount, rec.HeadingPath, rec.OverlapTokenCount, meta,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", rec.ChunkID, err)
		}
	}
	return nil
}

// CountBySource returns how many chunks are stored for one source.
func (s *Store) CountBySource(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chunks WHERE source_id = $1`, sourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
