package tiregen

import (
	"log/slog"
	"time"

	"github.com/treadworks/tiregen/internal/secret"
	"github.com/treadworks/tiregen/pkg/budget"
	"github.com/treadworks/tiregen/pkg/ledger"
	"github.com/treadworks/tiregen/pkg/pricing"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/pkg/router"
)

// ClientConfig holds everything a Client is built from. Use the With*
// options rather than constructing it directly.
type ClientConfig struct {
	Providers []provider.Config
	Instances map[string]provider.Provider
	Routes    []router.Route
	Budget    budget.Config
	Ledger    ledger.Store
	Pricing   *pricing.Calculator
	Resolver  *secret.Resolver
	Logger    *slog.Logger
	Clock     func() time.Time

	// DefaultMaxTokens caps text output when a request does not set one;
	// it also feeds the worst-case cost estimate.
	DefaultMaxTokens int
}

// Option configures the client.
type Option func(*ClientConfig)

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Instances:        make(map[string]provider.Provider),
		Logger:           slog.Default(),
		Clock:            time.Now,
		DefaultMaxTokens: 1024,
	}
}

// WithProvider adds a provider configuration. The adapter is constructed
// lazily on first use; APIKey may be a secret reference (env://, vault://).
func WithProvider(cfg provider.Config) Option {
	return func(c *ClientConfig) {
		c.Providers = append(c.Providers, cfg)
	}
}

// WithProviderInstance installs a pre-built adapter under the given name.
// Mostly useful for tests and custom vendors.
func WithProviderInstance(name string, p provider.Provider) Option {
	return func(c *ClientConfig) {
		c.Instances[name] = p
	}
}

// WithRoute adds one task route.
func WithRoute(r router.Route) Option {
	return func(c *ClientConfig) {
		c.Routes = append(c.Routes, r)
	}
}

// WithRoutes replaces the route set.
func WithRoutes(routes ...router.Route) Option {
	return func(c *ClientConfig) {
		c.Routes = routes
	}
}

// WithBudget sets the rolling spending ceilings.
func WithBudget(b budget.Config) Option {
	return func(c *ClientConfig) {
		c.Budget = b
	}
}

// WithLedger sets the cost ledger backend. Defaults to an in-memory store
// owned by this client.
func WithLedger(store ledger.Store) Option {
	return func(c *ClientConfig) {
		c.Ledger = store
	}
}

// WithPricing overrides the default pricing table.
func WithPricing(calc *pricing.Calculator) Option {
	return func(c *ClientConfig) {
		c.Pricing = calc
	}
}

// WithVaultSecrets enables vault:// credential references.
func WithVaultSecrets(addr, token string) Option {
	return func(c *ClientConfig) {
		src, err := secret.NewVaultSource(addr, token)
		if err != nil {
			// Leave the resolver env-only; a vault:// reference will then
			// fail closed at first use.
			return
		}
		c.Resolver = secret.NewResolver(secret.WithSource("vault", src))
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithDefaultMaxTokens sets the output cap used when a request leaves
// MaxTokens unset.
func WithDefaultMaxTokens(n int) Option {
	return func(c *ClientConfig) {
		c.DefaultMaxTokens = n
	}
}

// WithClock overrides the time source. Tests use this to pin budget
// windows.
func WithClock(now func() time.Time) Option {
	return func(c *ClientConfig) {
		c.Clock = now
	}
}
