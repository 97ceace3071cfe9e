// Package store implements the analytics-store bulk insert used by the
// Fallback Buffer (spec §4.G), backed by Postgres via pgx.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arc-self/ingest-service/internal/events"
)

// Store bulk-inserts rows into the analytics store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and returns a Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect analytics store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping analytics store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// BulkInsert inserts rows into table in row-json format: one row per
// record, the whole canonical record stored as a JSONB column, inside a
// single transaction per group (spec §4.G step 3).
//
// ON CONFLICT (record_id) DO NOTHING makes the insert idempotent against
// buffer retries that re-send a partially-inserted group (spec §9:
// at-least-once semantics; the teacher's audit-service consumers use the
// same idiom to make NATS redelivery safe).
func (s *Store) BulkInsert(ctx context.Context, table string, rows []events.Record) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(
		`INSERT INTO %s (record_id, client_id, payload) VALUES ($1, $2, $3) ON CONFLICT (record_id) DO NOTHING`,
		pgx.Identifier{table}.Sanitize(),
	)

	batch := &pgx.Batch{}
	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", row.RecordID, err)
		}
		batch.Queue(stmt, row.RecordID, row.ClientID, payload)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("bulk insert into %s (row %d): %w", table, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch results for %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
