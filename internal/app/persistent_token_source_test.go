package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/tokencache"
	"github.com/florianilch/credcache/internal/tokenstore"
)

// upstreamSource hands out numbered tokens and records the seed it was created with.
type upstreamSource struct {
	calls atomic.Int32
	seeds []*oauth2.Token
	err   error
}

func (u *upstreamSource) factory(cached *oauth2.Token) oauth2.TokenSource {
	u.seeds = append(u.seeds, cached)
	return tokenSourceFunc(func() (*oauth2.Token, error) {
		if u.err != nil {
			return nil, u.err
		}
		n := u.calls.Add(1)
		return &oauth2.Token{
			AccessToken:  "at-" + string(rune('0'+n)),
			RefreshToken: "rt-" + string(rune('0'+n)),
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	})
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

type unavailableStore struct {
	tokenstore.TokenStore
}

func (unavailableStore) LoadEntries(context.Context) (entry.Set, error) {
	return nil, &tokenstore.StorageReadError{Backend: "keychain", Err: errors.New("keychain locked")}
}

func (unavailableStore) AddEntries(context.Context, entry.Set, entry.Set) error {
	return &tokenstore.StorageWriteError{Backend: "keychain", Err: errors.New("keychain locked")}
}

var testQuery = entry.Entry{
	entry.FieldUserID:    entry.String("jonDoe@microsoft.com"),
	entry.FieldClientID:  entry.String("04b07795-8ddb-461a-bbee-02f9e1bf7b46"),
	entry.FieldAuthority: entry.String("https://login.windows.net/common"),
	entry.FieldResource:  entry.String("https://management.core.windows.net/"),
}

func newTestCache(t *testing.T) *tokencache.Cache {
	t.Helper()
	store, err := tokenstore.NewFileStore("/cache/tokens.json", tokenstore.WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)
	cache, err := tokencache.New(store)
	require.NoError(t, err)
	return cache
}

func TestNewPersistentTokenSource(t *testing.T) {
	cache := newTestCache(t)
	upstream := &upstreamSource{}

	_, err := NewPersistentTokenSource(nil, cache, testQuery)
	require.Error(t, err)
	_, err = NewPersistentTokenSource(upstream.factory, nil, testQuery)
	require.Error(t, err)
	_, err = NewPersistentTokenSource(upstream.factory, cache, entry.Entry{})
	require.Error(t, err)
}

func TestPersistentTokenSourcePersistsAndReuses(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	upstream := &upstreamSource{}

	ts, err := NewPersistentTokenSource(upstream.factory, cache, testQuery)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	require.Len(t, upstream.seeds, 1)
	assert.Nil(t, upstream.seeds[0], "nothing cached yet")

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "at-1", entries[0].Get(entry.FieldAccessToken).String())
	assert.Equal(t, "rt-1", entries[0].Get(entry.FieldRefreshToken).String())
	assert.Equal(t, "jonDoe@microsoft.com", entries[0].Get(entry.FieldUserID).String())

	// A second source for the same identity, differently cased, reuses the cache.
	query := testQuery.Clone()
	query[entry.FieldUserID] = entry.String("JONDOE@microsoft.com")
	other, err := NewPersistentTokenSource(upstream.factory, cache, query)
	require.NoError(t, err)

	tok, err = other.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.EqualValues(t, 1, upstream.calls.Load())
}

func TestPersistentTokenSourceRefreshesExpired(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	upstream := &upstreamSource{}

	expired := EntryFromToken(testQuery, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "rt-old",
		Expiry:       time.Now().Add(-time.Hour),
	})
	require.NoError(t, cache.AddEntries(ctx, entry.Set{expired}, nil))

	ts, err := NewPersistentTokenSource(upstream.factory, cache, testQuery)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	require.Len(t, upstream.seeds, 1)
	require.NotNil(t, upstream.seeds[0])
	assert.Equal(t, "rt-old", upstream.seeds[0].RefreshToken)

	entries, err := cache.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the expired entry is replaced")
	assert.Equal(t, "at-1", entries[0].Get(entry.FieldAccessToken).String())
}

func TestPersistentTokenSourceUpstreamError(t *testing.T) {
	upstream := &upstreamSource{err: errors.New("invalid_grant")}
	ts, err := NewPersistentTokenSource(upstream.factory, newTestCache(t), testQuery)
	require.NoError(t, err)

	_, err = ts.Token()
	require.ErrorContains(t, err, "invalid_grant")
}

func TestPersistentTokenSourceSurvivesUnavailableCache(t *testing.T) {
	cache, err := tokencache.New(unavailableStore{})
	require.NoError(t, err)
	upstream := &upstreamSource{}

	ts, err := NewPersistentTokenSource(upstream.factory, cache, testQuery)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)

	// the failed write is retried, so upstream is asked again
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
}

func TestEntryFromToken(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := EntryFromToken(testQuery, &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		Expiry:       expiry,
	})

	assert.Equal(t, "at", e.Get(entry.FieldAccessToken).String())
	assert.Equal(t, "rt", e.Get(entry.FieldRefreshToken).String())
	assert.Equal(t, "Bearer", e.Get(entry.FieldTokenType).String())
	assert.True(t, e.Get(entry.FieldIsMRRT).Equal(entry.Bool(true)))
	assert.Equal(t, "2026-03-01T12:00:00.000Z", e.Get(entry.FieldExpiresOn).String())
	assert.NotContains(t, testQuery, entry.FieldAccessToken, "base must not be modified")

	bare := EntryFromToken(nil, &oauth2.Token{AccessToken: "at"})
	assert.Equal(t, entry.Entry{entry.FieldAccessToken: entry.String("at")}, bare)
}

func TestTokenFromEntry(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		entry      entry.Entry
		wantOK     bool
		wantExpiry time.Time
	}{
		{
			name:   "no access token",
			entry:  entry.Entry{entry.FieldRefreshToken: entry.String("rt")},
			wantOK: false,
		},
		{
			name:       "typed expiry",
			entry:      entry.Entry{entry.FieldAccessToken: entry.String("at"), entry.FieldExpiresOn: entry.Time(expiry)},
			wantOK:     true,
			wantExpiry: expiry,
		},
		{
			name:       "persisted expiry",
			entry:      entry.Entry{entry.FieldAccessToken: entry.String("at"), entry.FieldExpiresOn: entry.String("2026-03-01T12:00:00.000Z")},
			wantOK:     true,
			wantExpiry: expiry,
		},
		{
			name:       "garbage expiry is expired",
			entry:      entry.Entry{entry.FieldAccessToken: entry.String("at"), entry.FieldExpiresOn: entry.String("soon")},
			wantOK:     true,
			wantExpiry: time.Unix(1, 0),
		},
		{
			name:   "no expiry",
			entry:  entry.Entry{entry.FieldAccessToken: entry.String("at")},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, ok := TokenFromEntry(tt.entry)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.True(t, tt.wantExpiry.Equal(tok.Expiry), "expiry %v, want %v", tok.Expiry, tt.wantExpiry)
		})
	}
}
