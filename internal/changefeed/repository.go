package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLeaseLost is returned by Commit when another owner holds the feed.
var ErrLeaseLost = errors.New("changefeed: lease lost")

// Cursor orders the feed. TxID is the writing transaction and Seq breaks
// ties within it. Rows only become readable once every transaction with a
// lower id has finished, so a committed cursor never skips a late commit.
type Cursor struct {
	TxID int64
	Seq  int64
}

// Less reports whether c sorts before o.
func (c Cursor) Less(o Cursor) bool {
	if c.TxID != o.TxID {
		return c.TxID < o.TxID
	}
	return c.Seq < o.Seq
}

// Document is one committed row of the telemetry document table.
type Document struct {
	TxID        int64
	Seq         int64
	ID          string
	Body        json.RawMessage
	CommittedAt time.Time
}

// Cursor returns the feed position of d.
func (d Document) Cursor() Cursor {
	return Cursor{TxID: d.TxID, Seq: d.Seq}
}

// Repository stores documents, leases and checkpoints.
type Repository interface {
	// AcquireLease takes or renews the lease on feed for owner. It reports the
	// stored checkpoint and false when another owner holds a live lease.
	AcquireLease(ctx context.Context, feed, owner string, ttl time.Duration) (Cursor, bool, error)
	// FetchBatch returns up to limit documents after the cursor, in cursor
	// order, whose writers and all older writers have finished.
	FetchBatch(ctx context.Context, after Cursor, limit int) ([]Document, error)
	Commit(ctx context.Context, feed, owner string, checkpoint Cursor) error
	Release(ctx context.Context, feed, owner string) error
}

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) AcquireLease(ctx context.Context, feed, owner string, ttl time.Duration) (Cursor, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO changefeed_leases (name, checkpoint, owner, expires_at, updated_at)
		VALUES ($1, 0, $2, now() + make_interval(secs => $3), now())
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at, updated_at = now()
		WHERE changefeed_leases.owner IS NULL
		   OR changefeed_leases.owner = EXCLUDED.owner
		   OR changefeed_leases.expires_at < now()
		RETURNING checkpoint_txid, checkpoint
	`

	var checkpoint Cursor
	err := r.pool.QueryRow(ctx, query, feed, owner, ttl.Seconds()).Scan(&checkpoint.TxID, &checkpoint.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("failed to acquire lease %s: %w", feed, err)
	}
	return checkpoint, true, nil
}

func (r *PostgresRepository) FetchBatch(ctx context.Context, after Cursor, limit int) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Every transaction below the snapshot xmin has finished, so the rows
	// under it can no longer change.
	query := `
		SELECT txid, seq, id::text, body::text, committed_at
		FROM telemetry_documents
		WHERE (txid, seq) > ($1::bigint, $2::bigint)
		  AND txid < pg_snapshot_xmin(pg_current_snapshot())::text::bigint
		ORDER BY txid, seq
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, after.TxID, after.Seq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc  Document
			body string
		)
		if err := rows.Scan(&doc.TxID, &doc.Seq, &doc.ID, &body, &doc.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Body = json.RawMessage(body)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, nil
}

func (r *PostgresRepository) Commit(ctx context.Context, feed, owner string, checkpoint Cursor) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE changefeed_leases
		SET checkpoint_txid = CASE WHEN (checkpoint_txid, checkpoint) < ($3::bigint, $4::bigint) THEN $3::bigint ELSE checkpoint_txid END,
		    checkpoint      = CASE WHEN (checkpoint_txid, checkpoint) < ($3::bigint, $4::bigint) THEN $4::bigint ELSE checkpoint END,
		    updated_at      = now()
		WHERE name = $1 AND owner = $2 AND expires_at >= now()
	`

	tag, err := r.pool.Exec(ctx, query, feed, owner, checkpoint.TxID, checkpoint.Seq)
	if err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *PostgresRepository) Release(ctx context.Context, feed, owner string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`UPDATE changefeed_leases SET owner = NULL, expires_at = NULL, updated_at = now() WHERE name = $1 AND owner = $2`,
		feed, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Append commits a new document and returns its sequence number.
func (r *PostgresRepository) Append(ctx context.Context, body json.RawMessage) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var seq int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO telemetry_documents (body) VALUES ($1::jsonb) RETURNING seq`,
		string(body)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append document: %w", err)
	}
	return seq, nil
}
