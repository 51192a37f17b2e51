package uttlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id           TEXT              PRIMARY KEY,
    finalized_at TIMESTAMPTZ       NOT NULL,
    text         TEXT              NOT NULL,
    confidence   DOUBLE PRECISION  NOT NULL,
    end_reason   TEXT              NOT NULL,
    duration_ms  BIGINT            NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_utterances_finalized_at
    ON utterances (finalized_at);
`

// execer is the subset of [pgxpool.Pool] used for writes.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLog inserts every utterance into the utterances table. Safe for
// concurrent use.
type PostgresLog struct {
	db   execer
	pool *pgxpool.Pool
}

// OpenPostgresLog connects to dsn, verifies the connection and creates the
// utterances table if it does not exist.
func OpenPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("uttlog: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("uttlog: postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresLog{db: pool, pool: pool}, nil
}

// Migrate creates the utterances table and its index. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("uttlog: postgres: migrate: %w", err)
	}
	return nil
}

// Record implements [Recorder]. Recording the same ID twice keeps the first
// row.
func (l *PostgresLog) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO utterances (id, finalized_at, text, confidence, end_reason, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := l.db.Exec(ctx, q,
		e.ID,
		e.Timestamp,
		e.Text,
		e.Confidence,
		string(e.EndReason),
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("uttlog: postgres: insert %s: %w", e.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (l *PostgresLog) Close() error {
	if l.pool != nil {
		l.pool.Close()
	}
	return nil
}

var _ Recorder = (*PostgresLog)(nil)
