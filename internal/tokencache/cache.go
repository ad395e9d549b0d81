// Package tokencache composes a storage backend with entry lookup.
//
// The cache keeps nothing in memory between calls: every operation re-reads
// the backend so callers always observe the latest persisted state.
package tokencache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/match"
	"github.com/florianilch/credcache/internal/tokenstore"
)

// Cache exposes find/add/remove/clear over one TokenStore. Operations on one
// Cache are serialized; nothing is locked across processes.
type Cache struct {
	store tokenstore.TokenStore
	mu    sync.Mutex
}

// New creates a Cache backed by store.
func New(store tokenstore.TokenStore) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	return &Cache{store: store}, nil
}

// LoadEntries returns every persisted entry.
func (c *Cache) LoadEntries(ctx context.Context) (entry.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.LoadEntries(ctx)
}

// Find returns the entries matching query.
func (c *Cache) Find(ctx context.Context, query entry.Entry) (entry.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.find(ctx, query)
}

func (c *Cache) find(ctx context.Context, query entry.Entry) (entry.Set, error) {
	entries, err := c.store.LoadEntries(ctx)
	if err != nil {
		return nil, err
	}

	found := match.Find(query, entries)
	slog.DebugContext(ctx, "token cache lookup", "query_fields", query.Keys(), "candidates", len(entries), "matches", len(found))
	return found, nil
}

// AddEntries removes entriesToRemove and adds entries in one rewrite.
func (c *Cache) AddEntries(ctx context.Context, entries, entriesToRemove entry.Set) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.DebugContext(ctx, "adding token cache entries", "add", len(entries), "remove", len(entriesToRemove))
	return c.store.AddEntries(ctx, entries, entriesToRemove)
}

// RemoveEntries persists exactly entriesToKeep.
func (c *Cache) RemoveEntries(ctx context.Context, entriesToRemove, entriesToKeep entry.Set) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.DebugContext(ctx, "removing token cache entries", "remove", len(entriesToRemove), "keep", len(entriesToKeep))
	return c.store.RemoveEntries(ctx, entriesToRemove, entriesToKeep)
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slog.DebugContext(ctx, "clearing token cache")
	return c.store.Clear(ctx)
}

// Replace supersedes every entry matching query with newEntry in a single
// rewrite. It returns the entries that were replaced.
func (c *Cache) Replace(ctx context.Context, query entry.Entry, newEntry entry.Entry) (entry.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale, err := c.find(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := c.store.AddEntries(ctx, entry.Set{newEntry}, stale); err != nil {
		return nil, err
	}
	return stale, nil
}

// RemoveMatching removes every entry matching query and keeps the rest. It
// returns the removed entries.
func (c *Cache) RemoveMatching(ctx context.Context, query entry.Entry) (entry.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.store.LoadEntries(ctx)
	if err != nil {
		return nil, err
	}

	removed := match.Find(query, entries)
	if len(removed) == 0 {
		return removed, nil
	}

	if err := c.store.RemoveEntries(ctx, removed, entries.Without(removed)); err != nil {
		return nil, err
	}
	return removed, nil
}
