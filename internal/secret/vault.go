package secret

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultSource reads secrets from HashiCorp Vault KV v2. Paths take the form
// "mount/path/to/secret#field"; the field defaults to "value".
type VaultSource struct {
	client *vault.Client
}

// NewVaultSource creates a Vault-backed source.
func NewVaultSource(addr, token string) (*VaultSource, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = addr
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(token)
	return &VaultSource{client: client}, nil
}

// Lookup reads one field of a KV v2 secret.
func (s *VaultSource) Lookup(ctx context.Context, path string) (string, error) {
	path, field, ok := strings.Cut(path, "#")
	if !ok {
		field = "value"
	}
	mount, rest, ok := strings.Cut(path, "/")
	if !ok {
		return "", fmt.Errorf("vault path %q missing mount prefix", path)
	}

	kv := s.client.KVv2(mount)
	sec, err := kv.Get(ctx, rest)
	if err != nil {
		return "", fmt.Errorf("read vault secret %s: %w", path, err)
	}

	val, ok := sec.Data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s has no field %q", path, field)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s field %q is not a string", path, field)
	}
	return str, nil
}

// Close is a no-op; the Vault client holds no persistent connection.
func (s *VaultSource) Close() error { return nil }
