package tokenstore

import (
	"context"
	"fmt"
	"os"

	"github.com/florianilch/credcache/internal/codec"
	"github.com/florianilch/credcache/internal/entry"
)

const envBackend = "env"

// EnvStore provides read-only access to entries stored in an environment
// variable, one encoded entry per line. Suitable for CI where an external
// secret manager injects the cache.
type EnvStore struct {
	envKey    string
	lookupEnv func(string) (string, bool)
}

// Compile-time check to ensure EnvStore implements TokenStore
var _ TokenStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{
		envKey:    envKey,
		lookupEnv: os.LookupEnv,
	}, nil
}

// LoadEntries decodes the variable. An unset or empty variable is an empty set.
func (e *EnvStore) LoadEntries(ctx context.Context) (entry.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, ok := e.lookupEnv(e.envKey)
	if !ok {
		return entry.Set{}, nil
	}

	entries, err := codec.DecodeSet(raw)
	if err != nil {
		return nil, readError(envBackend, fmt.Errorf("environment variable %s: %w", e.envKey, err))
	}
	return entries, nil
}

// AddEntries is not supported for environment variables (they are read-only).
func (e *EnvStore) AddEntries(ctx context.Context, _, _ entry.Set) error {
	return e.readOnly(ctx)
}

// RemoveEntries is not supported for environment variables (they are read-only).
func (e *EnvStore) RemoveEntries(ctx context.Context, _, _ entry.Set) error {
	return e.readOnly(ctx)
}

// Clear is not supported for environment variables (they are read-only).
func (e *EnvStore) Clear(ctx context.Context) error {
	return e.readOnly(ctx)
}

func (e *EnvStore) readOnly(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return writeError(envBackend, fmt.Errorf("environment variable %s: %w", e.envKey, ErrReadOnly))
}
