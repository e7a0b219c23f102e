package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the ledger in a Redis sorted set scored by entry
// timestamp (unix nanoseconds), so rolling-window sums are range queries.
// Multiple orchestrator instances sharing one Redis share one budget.
type RedisStore struct {
	client    redis.UniversalClient
	key       string
	ownClient bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisKey overrides the default sorted-set key.
func WithRedisKey(key string) RedisOption {
	return func(s *RedisStore) {
		s.key = key
	}
}

// NewRedisStore creates a ledger over an existing Redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    "tiregen:ledger",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreAddr creates a ledger with its own client for the given
// address.
func NewRedisStoreAddr(addr, password string, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	s := NewRedisStore(client, opts...)
	s.ownClient = true
	return s
}

// Record appends one entry.
func (s *RedisStore) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	score := float64(e.Timestamp.UnixNano())
	if err := s.client.ZAdd(ctx, s.key, redis.Z{Score: score, Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// SumSince returns total cost of entries at or after since.
func (s *RedisStore) SumSince(ctx context.Context, since time.Time) (float64, error) {
	entries, err := s.rangeSince(ctx, since)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, e := range entries {
		sum += e.CostUSD
	}
	return sum, nil
}

// Recent returns up to n entries, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	raw, err := s.client.ZRevRange(ctx, s.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return decodeEntries(raw)
}

// Summarize aggregates cost by provider and task type since the given time.
func (s *RedisStore) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	entries, err := s.rangeSince(ctx, since)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Since:      since,
		ByProvider: make(map[string]float64),
		ByTaskType: make(map[string]float64),
	}
	for _, e := range entries {
		sum.TotalCostUSD += e.CostUSD
		sum.ByProvider[e.Provider] += e.CostUSD
		sum.ByTaskType[e.TaskType] += e.CostUSD
	}
	return sum, nil
}

// Close closes the client if this store owns it.
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) rangeSince(ctx context.Context, since time.Time) ([]Entry, error) {
	min := strconv.FormatInt(since.UnixNano(), 10)
	raw, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return decodeEntries(raw)
}

func decodeEntries(raw []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(raw))
	for _, member := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			// Skip entries written by an incompatible version rather than
			// failing the whole window.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
