package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process ledger. It is the default backend and the
// one tests use; every orchestrator instance owns its own store so parallel
// tests cannot cross-contaminate.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends one entry.
func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// SumSince returns total cost of entries at or after since.
func (s *MemoryStore) SumSince(_ context.Context, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	for _, e := range s.entries {
		if !e.Timestamp.Before(since) {
			sum += e.CostUSD
		}
	}
	return sum, nil
}

// Recent returns up to n entries, newest first.
func (s *MemoryStore) Recent(_ context.Context, n int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Summarize aggregates cost by provider and task type since the given time.
func (s *MemoryStore) Summarize(_ context.Context, since time.Time) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &Summary{
		Since:      since,
		ByProvider: make(map[string]float64),
		ByTaskType: make(map[string]float64),
	}
	for _, e := range s.entries {
		if e.Timestamp.Before(since) {
			continue
		}
		sum.TotalCostUSD += e.CostUSD
		sum.ByProvider[e.Provider] += e.CostUSD
		sum.ByTaskType[e.TaskType] += e.CostUSD
	}
	return sum, nil
}

// Len returns the number of recorded entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
