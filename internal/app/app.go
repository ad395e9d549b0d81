package app

import (
	"fmt"

	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/tokencache"
)

// App wires the configured storage backend into a token cache.
type App struct {
	cfg   *Config
	cache *tokencache.Cache
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// I/O deferred to the first cache operation
	store, err := cfg.Store.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	cache, err := tokencache.New(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	return &App{
		cfg:   cfg,
		cache: cache,
	}, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *Config {
	return a.cfg
}

// Cache returns the token cache.
func (a *App) Cache() *tokencache.Cache {
	return a.cache
}

// TokenSource returns an oauth2.TokenSource persisting tokens for query in
// the App's cache.
func (a *App) TokenSource(factory TokenSourceFactory, query entry.Entry) (*PersistentTokenSource, error) {
	return NewPersistentTokenSource(factory, a.cache, query)
}
