package tokenstore

import (
	"context"

	"github.com/florianilch/credcache/internal/entry"
)

// TokenStore reads and writes the full set of cached entries.
type TokenStore interface {
	// LoadEntries returns everything currently persisted. A store that was
	// never written returns an empty set.
	LoadEntries(ctx context.Context) (entry.Set, error)

	// AddEntries removes removeFirst, then adds newEntries, persisted as a
	// single rewrite. Existing entries equal to an incoming one are replaced.
	AddEntries(ctx context.Context, newEntries, removeFirst entry.Set) error

	// RemoveEntries persists exactly toKeep; toRemove is informational for
	// backends that delete item by item.
	RemoveEntries(ctx context.Context, toRemove, toKeep entry.Set) error

	// Clear persists an empty set. Clearing an empty store succeeds.
	Clear(ctx context.Context) error
}

// rewriter is implemented by backends that persist by rewriting the whole set.
type rewriter interface {
	LoadEntries(ctx context.Context) (entry.Set, error)
	saveEntries(ctx context.Context, entries entry.Set) error
}
