// Package providers hosts the adapter factory table and the per-process
// instance cache. Instances are created lazily and shared: repeated Get
// calls for the same name return the same adapter so connection pools and
// rate-limit state are not duplicated.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/treadworks/tiregen/internal/secret"
	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/provider"
	"github.com/treadworks/tiregen/providers/anthropic"
	"github.com/treadworks/tiregen/providers/gemini"
	"github.com/treadworks/tiregen/providers/openai"
	"github.com/treadworks/tiregen/providers/openrouter"
)

var (
	factories    = make(map[string]provider.Factory)
	factoriesMu  sync.RWMutex
	builtinsOnce sync.Once
)

// Register registers a provider factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[providerType] = factory
}

// Lookup returns the factory for the given provider type.
func Lookup(providerType string) (provider.Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[providerType]
	return f, ok
}

// Types returns all registered provider type names.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins registers all built-in adapter factories. Called
// automatically on first use.
func RegisterBuiltins() {
	builtinsOnce.Do(func() {
		Register("openai", openai.New)
		Register("anthropic", anthropic.New)
		Register("gemini", gemini.New)
		Register("openrouter", openrouter.New)
	})
}

func init() {
	RegisterBuiltins()
}

// Registry caches adapter instances by name. It is safe for concurrent use;
// creation races resolve to a single winning instance.
type Registry struct {
	configs  map[string]provider.Config
	resolver *secret.Resolver

	mu      sync.RWMutex
	clients map[string]provider.Provider
}

// NewRegistry creates a registry over the given provider configurations.
// APIKey values may be secret references; they are resolved at first Get.
func NewRegistry(configs []provider.Config, resolver *secret.Resolver) *Registry {
	r := &Registry{
		configs:  make(map[string]provider.Config, len(configs)),
		resolver: resolver,
		clients:  make(map[string]provider.Provider),
	}
	for _, cfg := range configs {
		r.configs[cfg.Name] = cfg
	}
	return r
}

// Add installs a pre-built adapter instance, taking precedence over any
// config with the same name. Used by tests and library callers.
func (r *Registry) Add(name string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = p
}

// Get returns the cached adapter for name, creating it on first use. A
// provider with no resolvable credential fails with UnavailableError before
// any network activity so a dead candidate only consumes a fallback slot.
func (r *Registry) Get(ctx context.Context, name string) (provider.Provider, error) {
	r.mu.RLock()
	p, ok := r.clients[name]
	r.mu.RUnlock()
	if ok {
		if !p.Available() {
			return nil, &errors.UnavailableError{Provider: name, Reason: "no credential"}
		}
		return p, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, &errors.UnavailableError{Provider: name, Reason: "not configured"}
	}

	key := cfg.APIKey
	if r.resolver != nil {
		resolved, err := r.resolver.Resolve(ctx, cfg.APIKey)
		if err != nil {
			return nil, &errors.UnavailableError{Provider: name, Reason: fmt.Sprintf("credential lookup failed: %v", err)}
		}
		key = resolved
	}
	if key == "" {
		return nil, &errors.UnavailableError{Provider: name, Reason: "no credential"}
	}
	cfg.APIKey = key

	factory, ok := Lookup(cfg.Type)
	if !ok {
		return nil, &errors.UnavailableError{Provider: name, Reason: fmt.Sprintf("unknown provider type %q", cfg.Type)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// First writer wins; a racing goroutine reuses the cached instance.
	if existing, ok := r.clients[name]; ok {
		return existing, nil
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, &errors.UnavailableError{Provider: name, Reason: fmt.Sprintf("instantiation failed: %v", err)}
	}
	r.clients[name] = p
	return p, nil
}

// HasCredential reports whether the named provider would pass Get's
// credential gate, without constructing an adapter.
func (r *Registry) HasCredential(ctx context.Context, name string) bool {
	r.mu.RLock()
	p, ok := r.clients[name]
	r.mu.RUnlock()
	if ok {
		return p.Available()
	}

	cfg, ok := r.configs[name]
	if !ok {
		return false
	}
	key := cfg.APIKey
	if r.resolver != nil {
		resolved, err := r.resolver.Resolve(ctx, cfg.APIKey)
		if err != nil {
			return false
		}
		key = resolved
	}
	return key != ""
}

// Names returns every provider name the registry knows about.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.configs)+len(r.clients))
	for name := range r.configs {
		seen[name] = true
	}
	for name := range r.clients {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

// Config returns the stored configuration for a provider name.
func (r *Registry) Config(name string) (provider.Config, bool) {
	cfg, ok := r.configs[name]
	return cfg, ok
}
