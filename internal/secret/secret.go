// Package secret resolves provider credential references. A reference is
// either a literal value, "env://VAR", or "vault://mount/path#field"; the
// registry treats an empty resolution as "no credential present".
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Source looks up a secret by path within one backend.
type Source interface {
	Lookup(ctx context.Context, path string) (string, error)
	Close() error
}

// Resolver routes credential references to a Source by scheme and caches
// resolved values so hot paths never re-read a backend.
type Resolver struct {
	sources map[string]Source
	cache   *gocache.Cache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSource registers a source for a scheme (e.g. "vault").
func WithSource(scheme string, src Source) Option {
	return func(r *Resolver) {
		r.sources[scheme] = src
	}
}

// WithCacheTTL overrides the default five-minute cache expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = gocache.New(ttl, 2*ttl)
	}
}

// NewResolver creates a resolver with the env source pre-registered.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		sources: map[string]Source{"env": envSource{}},
		cache:   gocache.New(5*time.Minute, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the secret value for a reference. References without a
// scheme are returned as-is (static credential support).
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	if val, found := r.cache.Get(ref); found {
		if s, ok := val.(string); ok {
			return s, nil
		}
	}

	src, ok := r.sources[scheme]
	if !ok {
		return "", fmt.Errorf("no secret source registered for scheme %q", scheme)
	}

	val, err := src.Lookup(ctx, path)
	if err != nil {
		return "", err
	}
	if val != "" {
		r.cache.Set(ref, val, gocache.DefaultExpiration)
	}
	return val, nil
}

// Close closes all registered sources.
func (r *Resolver) Close() error {
	var errs []string
	for scheme, src := range r.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close secret sources: %s", strings.Join(errs, "; "))
	}
	return nil
}

// envSource reads secrets from process environment variables.
type envSource struct{}

func (envSource) Lookup(_ context.Context, path string) (string, error) {
	return os.Getenv(path), nil
}

func (envSource) Close() error { return nil }
