package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/potally/internal/domain/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS po_counts (
    user_id TEXT PRIMARY KEY,
    count   BIGINT NOT NULL CHECK (count >= 0),
    seq     BIGSERIAL
);`

// PostgresBackend stores one row per user; seq keeps insertion order.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgresBackend connects, pings and ensures the schema.
func OpenPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context) ([]model.CounterRecord, error) {
	const sql = `SELECT user_id, count FROM po_counts ORDER BY seq;`
	rows, err := b.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("postgres: loading counts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CounterRecord, error) {
		var r model.CounterRecord
		err := row.Scan(&r.UserID, &r.Count)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning counts: %w", err)
	}
	return out, nil
}

// Put upserts one record.
func (b *PostgresBackend) Put(ctx context.Context, rec model.CounterRecord) error {
	const sql = `
INSERT INTO po_counts (user_id, count)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE
  SET count = EXCLUDED.count;
`
	if _, err := b.pool.Exec(ctx, sql, rec.UserID, rec.Count); err != nil {
		return fmt.Errorf("postgres: saving count for %s: %w", rec.UserID, err)
	}
	return nil
}

// Save implements Backend; the table is rewritten in one transaction.
func (b *PostgresBackend) Save(ctx context.Context, records []model.CounterRecord) error {
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM po_counts;`); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		rows := make([][]any, len(records))
		for i, r := range records {
			rows[i] = []any{r.UserID, r.Count}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"po_counts"}, []string{"user_id", "count"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: replacing counts: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
