package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS generation_ledger (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	success       BOOLEAN NOT NULL,
	ts            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS generation_ledger_ts_idx ON generation_ledger (ts);
`

// PostgresStore persists the ledger in Postgres for durable reporting. The
// admin dashboard reads the same table the orchestrator appends to.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and ensures the ledger table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure ledger table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Record appends one entry.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_ledger
		 (id, provider, model, task_type, input_tokens, output_tokens, cost_usd, latency_ms, success, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Provider, e.Model, e.TaskType, e.InputTokens, e.OutputTokens,
		e.CostUSD, e.LatencyMs, e.Success, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// SumSince returns total cost of entries at or after since.
func (s *PostgresStore) SumSince(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM generation_ledger WHERE ts >= $1`,
		since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// Recent returns up to n entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, model, task_type, input_tokens, output_tokens, cost_usd, latency_ms, success, ts
		 FROM generation_ledger ORDER BY ts DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Provider, &e.Model, &e.TaskType, &e.InputTokens,
			&e.OutputTokens, &e.CostUSD, &e.LatencyMs, &e.Success, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summarize aggregates cost by provider and task type since the given time.
func (s *PostgresStore) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	sum := &Summary{
		Since:      since,
		ByProvider: make(map[string]float64),
		ByTaskType: make(map[string]float64),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM generation_ledger WHERE ts >= $1`,
		since,
	).Scan(&sum.TotalCostUSD)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}

	if err := s.groupInto(ctx, since, "provider", sum.ByProvider); err != nil {
		return nil, err
	}
	if err := s.groupInto(ctx, since, "task_type", sum.ByTaskType); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *PostgresStore) groupInto(ctx context.Context, since time.Time, column string, dst map[string]float64) error {
	// column is one of two fixed identifiers, never user input.
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, SUM(cost_usd) FROM generation_ledger WHERE ts >= $1 GROUP BY %s`, column, column),
		since)
	if err != nil {
		return fmt.Errorf("group ledger by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var cost float64
		if err := rows.Scan(&key, &cost); err != nil {
			return fmt.Errorf("scan ledger group: %w", err)
		}
		dst[key] = cost
	}
	return rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }
