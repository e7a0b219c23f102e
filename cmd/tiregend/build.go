package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/treadworks/tiregen"
	"github.com/treadworks/tiregen/internal/config"
	"github.com/treadworks/tiregen/pkg/budget"
	"github.com/treadworks/tiregen/pkg/ledger"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/router"
)

// buildClient assembles the orchestrator from the daemon configuration. The
// returned store is non-nil when this daemon owns an external ledger backend
// and must close it on shutdown.
func buildClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tiregen.Client, ledger.Store, error) {
	opts := []tiregen.Option{
		tiregen.WithLogger(logger),
		tiregen.WithBudget(budget.Config{
			DailyUSD:   cfg.Budget.DailyUSD,
			WeeklyUSD:  cfg.Budget.WeeklyUSD,
			MonthlyUSD: cfg.Budget.MonthlyUSD,
		}),
		tiregen.WithRoutes(buildRoutes(cfg)...),
	}

	for _, pc := range cfg.Providers {
		opts = append(opts, tiregen.WithProvider(provider.Config{
			Name:              pc.Name,
			Type:              pc.Type,
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			Model:             pc.Model,
			Models:            pc.Models,
			Headers:           pc.Headers,
			RequestsPerMinute: pc.RequestsPerMinute,
			Burst:             pc.Burst,
		}))
	}

	var store ledger.Store
	switch cfg.Ledger.Backend {
	case "", "memory":
		// Client owns its default in-memory store.
	case "redis":
		store = ledger.NewRedisStoreAddr(cfg.Ledger.RedisAddr, cfg.Ledger.RedisPassword)
	case "postgres":
		pg, err := ledger.NewPostgresStore(ctx, cfg.Ledger.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		store = pg
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	if store != nil {
		opts = append(opts, tiregen.WithLedger(store))
	}

	if cfg.Vault.Addr != "" {
		opts = append(opts, tiregen.WithVaultSecrets(cfg.Vault.Addr, cfg.Vault.Token))
	}

	client, err := tiregen.New(opts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return client, store, nil
}

// buildRoutes converts task configuration into routing-table entries.
func buildRoutes(cfg *config.Config) []router.Route {
	routes := make([]router.Route, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		r := router.Route{
			Task:       tc.Type,
			Preferred:  router.Candidate{Provider: tc.Provider, Model: tc.Model},
			Timeout:    tc.Timeout,
			CeilingUSD: tc.CeilingUSD,
		}
		for _, fb := range tc.Fallbacks {
			r.Fallbacks = append(r.Fallbacks, router.Candidate{
				Provider: fb.Provider,
				Model:    fb.Model,
			})
		}
		routes = append(routes, r)
	}
	return routes
}
