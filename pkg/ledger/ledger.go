// Package ledger is the append-only record of every generation attempt,
// successful or not. The budget governor reads rolling sums from it; cost
// dashboards read summaries. Entries are never updated or deleted here;
// retention is an external concern.
package ledger

import (
	"context"
	"time"
)

// Entry records one generation attempt. Failed and skipped attempts carry
// zero cost but are still recorded: every attempt produces exactly one
// entry.
type Entry struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	TaskType     string    `json:"task_type"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// Summary aggregates spend over a window for reporting.
type Summary struct {
	Since        time.Time          `json:"since"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	ByProvider   map[string]float64 `json:"by_provider"`
	ByTaskType   map[string]float64 `json:"by_task_type"`
}

// Store is the ledger persistence interface. Record must tolerate
// interleaved appends from concurrent requests; rolling-sum reads accept
// eventual consistency with in-flight writes.
type Store interface {
	// Record appends one entry.
	Record(ctx context.Context, e Entry) error

	// SumSince returns total cost of entries at or after since.
	SumSince(ctx context.Context, since time.Time) (float64, error)

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)

	// Summarize aggregates cost by provider and task type since the given
	// time.
	Summarize(ctx context.Context, since time.Time) (*Summary, error)

	// Close releases store resources.
	Close() error
}
