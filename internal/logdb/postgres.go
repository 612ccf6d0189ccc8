package logdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/verity-log/verity/internal/entry"
	"github.com/verity-log/verity/internal/sth"
)

// advisoryLockKey serialises concurrent CreateSequencedEntry calls from
// multiple local writers. The value is arbitrary but must be consistent
// across all processes sharing one database.
const advisoryLockKey = int64(7_236_114_905)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// Postgres persists the local log to a PostgreSQL database. It implements
// the Database interface.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres log backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// LookupByIndex implements Database.
func (p *Postgres) LookupByIndex(ctx context.Context, index int64) (*entry.Entry, error) {
	e := &entry.Entry{}
	var seq int64
	if err := p.pool.QueryRow(ctx,
		`SELECT seq, entry_hash, submitted_at, leaf_value FROM log_entries WHERE seq = $1`, index,
	).Scan(&seq, &e.EntryHash, &e.SubmittedAt, &e.LeafValue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup entry %d: %w", index, err)
	}
	e.Sequence = &seq
	return e, nil
}

// CreateSequencedEntry implements Database.
// It acquires a PostgreSQL advisory lock, verifies the entry extends the
// contiguous prefix, and inserts it — all within a single transaction.
func (p *Postgres) CreateSequencedEntry(ctx context.Context, e *entry.Entry) error {
	if !e.HasSequence() {
		return fmt.Errorf("entry %x has no sequence number", e.Hash())
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	seq := e.SequenceNumber()
	var size int64
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM log_entries").Scan(&size); err != nil {
		return fmt.Errorf("count log entries: %w", err)
	}
	if seq < size {
		return ErrSequenceNumberInUse
	}
	if seq > size {
		return fmt.Errorf("sequence number %d would leave a gap (log size %d)", seq, size)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO log_entries (seq, entry_hash, submitted_at, leaf_value)
		 VALUES ($1, $2, $3, $4)`,
		seq, e.EntryHash, e.SubmittedAt, e.LeafValue,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSequenceNumberInUse
		}
		return fmt.Errorf("insert entry %d: %w", seq, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit entry tx: %w", err)
	}

	p.logger.Debug("sequenced entry stored",
		zap.Int64("seq", seq),
		zap.Binary("entry_hash", e.EntryHash),
	)
	return nil
}

// TreeSize implements Database.
func (p *Postgres) TreeSize(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM log_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count log entries: %w", err)
	}
	return n, nil
}

// LatestTreeHead implements Database.
func (p *Postgres) LatestTreeHead(ctx context.Context) (*sth.SignedTreeHead, error) {
	head := &sth.SignedTreeHead{}
	var version int16
	if err := p.pool.QueryRow(ctx,
		`SELECT version, timestamp_ms, tree_size, root_hash, signature
		 FROM tree_heads ORDER BY tree_size DESC, timestamp_ms DESC LIMIT 1`,
	).Scan(&version, &head.Timestamp, &head.TreeSize, &head.RootHash, &head.Signature); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup latest tree head: %w", err)
	}
	head.Version = uint8(version)
	return head, nil
}

// StoreTreeHead implements Database.
func (p *Postgres) StoreTreeHead(ctx context.Context, head *sth.SignedTreeHead) error {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO tree_heads (version, timestamp_ms, tree_size, root_hash, signature)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (timestamp_ms) DO NOTHING`,
		int16(head.Version), head.Timestamp, head.TreeSize, head.RootHash, head.Signature,
	); err != nil {
		return fmt.Errorf("insert tree head: %w", err)
	}
	p.logger.Debug("tree head stored",
		zap.Uint64("tree_size", head.TreeSize),
		zap.Uint64("timestamp", head.Timestamp),
	)
	return nil
}
