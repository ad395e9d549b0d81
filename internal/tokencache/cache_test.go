package tokencache_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/tokencache"
	"github.com/florianilch/credcache/internal/tokenstore"
)

// countingStore records how often the backend is read.
type countingStore struct {
	tokenstore.TokenStore
	mu    sync.Mutex
	loads int
}

func (s *countingStore) LoadEntries(ctx context.Context) (entry.Set, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.TokenStore.LoadEntries(ctx)
}

type failingStore struct {
	tokenstore.TokenStore
	err error
}

func (s failingStore) LoadEntries(context.Context) (entry.Set, error) {
	return nil, s.err
}

func newCache(t *testing.T) (*tokencache.Cache, *countingStore) {
	t.Helper()
	fileStore, err := tokenstore.NewFileStore("/cache/tokens.json", tokenstore.WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)

	store := &countingStore{TokenStore: fileStore}
	cache, err := tokencache.New(store)
	require.NoError(t, err)
	return cache, store
}

func tokenEntry(user, resource, accessToken string) entry.Entry {
	return entry.Entry{
		entry.FieldUserID:      entry.String(user),
		entry.FieldClientID:    entry.String("04b07795-8ddb-461a-bbee-02f9e1bf7b46"),
		entry.FieldAuthority:   entry.String("https://login.windows.net/common"),
		entry.FieldResource:    entry.String(resource),
		entry.FieldAccessToken: entry.String(accessToken),
	}
}

func TestNew(t *testing.T) {
	_, err := tokencache.New(nil)
	require.Error(t, err)
}

func TestCacheFind(t *testing.T) {
	ctx := context.Background()
	cache, store := newCache(t)

	jon := tokenEntry("jonDoe@microsoft.com", "https://management.core.windows.net/", "at-1")
	jane := tokenEntry("janeDoe@microsoft.com", "https://management.core.windows.net/", "at-2")
	require.NoError(t, cache.AddEntries(ctx, entry.Set{jon, jane}, nil))

	found, err := cache.Find(ctx, entry.Entry{
		entry.FieldUserID:    entry.String("jonDOE@microsoft.com"),
		entry.FieldAuthority: entry.String("https://login.windows.net/common"),
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "at-1", found[0].Get(entry.FieldAccessToken).String())

	found, err = cache.Find(ctx, entry.Entry{
		entry.FieldUserID:    entry.String("jonDOE@microsoft.com"),
		entry.FieldAuthority: entry.String("https://login.windows.net/common/"),
	})
	require.NoError(t, err)
	assert.Empty(t, found)

	loadsBefore := store.loads
	_, err = cache.Find(ctx, entry.Entry{})
	require.NoError(t, err)
	assert.Equal(t, loadsBefore+1, store.loads, "every find re-reads the backend")
}

func TestCacheObservesExternalWrites(t *testing.T) {
	ctx := context.Background()
	cache, store := newCache(t)

	jon := tokenEntry("jonDoe@microsoft.com", "https://management.core.windows.net/", "at-1")
	require.NoError(t, store.TokenStore.AddEntries(ctx, entry.Set{jon}, nil))

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCacheReplace(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)

	old := tokenEntry("jonDoe@microsoft.com", "https://management.core.windows.net/", "at-old")
	other := tokenEntry("jonDoe@microsoft.com", "https://graph.windows.net/", "at-graph")
	require.NoError(t, cache.AddEntries(ctx, entry.Set{old, other}, nil))

	fresh := tokenEntry("jonDoe@microsoft.com", "https://management.core.windows.net/", "at-new")
	replaced, err := cache.Replace(ctx, entry.Entry{
		entry.FieldUserID:   entry.String("JONDOE@microsoft.com"),
		entry.FieldResource: entry.String("https://management.core.windows.net/"),
	}, fresh)
	require.NoError(t, err)
	require.Len(t, replaced, 1)
	assert.True(t, replaced[0].Equal(old))

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, entry.Set{other, fresh}, entries)
}

func TestCacheRemoveMatching(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)

	jon := tokenEntry("jonDoe@microsoft.com", "https://management.core.windows.net/", "at-1")
	jonGraph := tokenEntry("jonDoe@microsoft.com", "https://graph.windows.net/", "at-2")
	jane := tokenEntry("janeDoe@microsoft.com", "https://management.core.windows.net/", "at-3")
	require.NoError(t, cache.AddEntries(ctx, entry.Set{jon, jonGraph, jane}, nil))

	removed, err := cache.RemoveMatching(ctx, entry.Entry{entry.FieldUserID: entry.String("JonDoe@Microsoft.com")})
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.Set{jane}, entries)

	removed, err = cache.RemoveMatching(ctx, entry.Entry{entry.FieldUserID: entry.String("nobody")})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)
	require.NoError(t, cache.AddEntries(ctx, entry.Set{tokenEntry("a", "r", "t")}, nil))

	require.NoError(t, cache.Clear(ctx))
	require.NoError(t, cache.Clear(ctx))

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheRemoveEntries(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)

	a := tokenEntry("a", "r", "t1")
	b := tokenEntry("b", "r", "t2")
	require.NoError(t, cache.AddEntries(ctx, entry.Set{a, b}, nil))

	require.NoError(t, cache.RemoveEntries(ctx, entry.Set{a}, entry.Set{b}))

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.Set{b}, entries)
}

func TestCacheConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := tokenEntry("user", "resource", string(rune('a'+i)))
			assert.NoError(t, cache.AddEntries(ctx, entry.Set{e}, nil))
		}()
	}
	wg.Wait()

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 10, "serialized writers must not lose updates")
}

func TestCacheReadErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	readErr := &tokenstore.StorageReadError{Backend: "file", Err: errors.New("disk on fire")}
	cache, err := tokencache.New(failingStore{err: readErr})
	require.NoError(t, err)

	_, err = cache.Find(ctx, entry.Entry{})
	require.ErrorIs(t, err, readErr)

	_, err = cache.Replace(ctx, entry.Entry{}, entry.Entry{})
	require.ErrorIs(t, err, readErr)
}
