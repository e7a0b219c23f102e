// Package budget enforces spending ceilings over rolling windows before an
// attempt is allowed to reach the network. The check is advisory by design:
// no budget is reserved, so concurrent requests can overshoot a ceiling
// slightly. That tradeoff keeps unrelated generation jobs from serializing
// through a lock.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/treadworks/tiregen/internal/metrics"
	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/ledger"
)

// Window names a rolling budget period.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// Duration returns the trailing duration the window covers.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case WindowDay, WindowWeek, WindowMonth:
		return Window(s), nil
	default:
		return "", fmt.Errorf("unknown budget window %q (want day, week, or month)", s)
	}
}

// Config holds the spending ceilings in USD. Zero disables a window.
type Config struct {
	DailyUSD   float64
	WeeklyUSD  float64
	MonthlyUSD float64
}

func (c Config) ceiling(w Window) float64 {
	switch w {
	case WindowDay:
		return c.DailyUSD
	case WindowWeek:
		return c.WeeklyUSD
	case WindowMonth:
		return c.MonthlyUSD
	default:
		return 0
	}
}

// Governor answers "can this estimated spend go ahead" against the ledger.
type Governor struct {
	store  ledger.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Governor.
type Option func(*Governor)

// WithLogger sets the governor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// New creates a governor over the given ledger store.
func New(store ledger.Store, cfg Config, opts ...Option) *Governor {
	g := &Governor{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanAfford checks estimatedUSD against every configured ceiling
// independently; the first window that would be exceeded vetoes the attempt.
// routeCeilingUSD, when positive, is a per-route override checked against
// the daily window in addition to the global ceilings. A ledger read failure
// allows the attempt: the check is advisory and availability wins.
func (g *Governor) CanAfford(ctx context.Context, estimatedUSD, routeCeilingUSD float64) error {
	now := g.now()

	for _, w := range []Window{WindowDay, WindowWeek, WindowMonth} {
		ceiling := g.cfg.ceiling(w)
		if w == WindowDay && routeCeilingUSD > 0 && (ceiling == 0 || routeCeilingUSD < ceiling) {
			ceiling = routeCeilingUSD
		}
		if ceiling <= 0 {
			continue
		}

		spent, err := g.store.SumSince(ctx, now.Add(-w.Duration()))
		if err != nil {
			g.logger.Warn("budget check skipped, ledger read failed",
				"window", string(w), "error", err)
			continue
		}

		remaining := ceiling - spent
		if remaining < 0 {
			remaining = 0
		}
		metrics.BudgetRemainingUSD.WithLabelValues(string(w)).Set(remaining)

		if spent+estimatedUSD > ceiling {
			metrics.BudgetVetoesTotal.WithLabelValues(string(w)).Inc()
			return &errors.BudgetError{
				Window:       string(w),
				SpentUSD:     spent,
				CeilingUSD:   ceiling,
				EstimatedUSD: estimatedUSD,
			}
		}
	}

	return nil
}

// Ceilings returns the configured global ceilings.
func (g *Governor) Ceilings() Config { return g.cfg }
