package providers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treadworks/tiregen/internal/secret"
	"github.com/treadworks/tiregen/pkg/errors"
	"github.com/treadworks/tiregen/pkg/provider"
)

func TestRegisterBuiltins(t *testing.T) {
	for _, typ := range []string{"openai", "anthropic", "gemini", "openrouter"} {
		_, ok := Lookup(typ)
		require.True(t, ok, "expected builtin factory for %s", typ)
	}
	require.Contains(t, Types(), "openai")
}

func TestGet_ResolvesEnvCredentialOnce(t *testing.T) {
	t.Setenv("TIREGEN_REGISTRY_KEY", "sk-test")

	r := NewRegistry([]provider.Config{{
		Name:   "primary",
		Type:   "openai",
		APIKey: "env://TIREGEN_REGISTRY_KEY",
		Model:  "gpt-4o-mini",
	}}, secret.NewResolver())

	first, err := r.Get(context.Background(), "primary")
	require.NoError(t, err)
	require.Equal(t, "primary", first.Name())
	require.True(t, first.Available())

	second, err := r.Get(context.Background(), "primary")
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestGet_NoCredential(t *testing.T) {
	r := NewRegistry([]provider.Config{{
		Name:   "keyless",
		Type:   "openai",
		APIKey: "env://TIREGEN_REGISTRY_UNSET",
		Model:  "gpt-4o-mini",
	}}, secret.NewResolver())

	_, err := r.Get(context.Background(), "keyless")
	var unavail *errors.UnavailableError
	require.ErrorAs(t, err, &unavail)
	require.Equal(t, "keyless", unavail.Provider)
	require.Contains(t, unavail.Reason, "no credential")
	require.False(t, r.HasCredential(context.Background(), "keyless"))
}

func TestGet_UnknownNameAndType(t *testing.T) {
	r := NewRegistry([]provider.Config{{
		Name:   "odd",
		Type:   "telepathy",
		APIKey: "literal-key",
	}}, secret.NewResolver())

	var unavail *errors.UnavailableError

	_, err := r.Get(context.Background(), "ghost")
	require.ErrorAs(t, err, &unavail)
	require.Contains(t, unavail.Reason, "not configured")

	_, err = r.Get(context.Background(), "odd")
	require.ErrorAs(t, err, &unavail)
	require.Contains(t, unavail.Reason, "telepathy")
}

func TestGet_ConcurrentCreationSharesInstance(t *testing.T) {
	t.Setenv("TIREGEN_REGISTRY_KEY", "sk-test")

	r := NewRegistry([]provider.Config{{
		Name:   "primary",
		Type:   "openai",
		APIKey: "env://TIREGEN_REGISTRY_KEY",
		Model:  "gpt-4o-mini",
	}}, secret.NewResolver())

	var wg sync.WaitGroup
	got := make([]provider.Provider, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _ := r.Get(context.Background(), "primary")
			got[i] = p
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for i := 1; i < len(got); i++ {
		require.Same(t, got[0], got[i])
	}
}
