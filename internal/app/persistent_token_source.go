package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/tokencache"
)

// TokenSourceFactory creates an oauth2.TokenSource seeded with the cached
// token, which may be expired or nil when nothing is cached. oauth2.Config's
// TokenSource method has this shape and refreshes from the seed's refresh token.
type TokenSourceFactory func(cached *oauth2.Token) oauth2.TokenSource

// PersistentTokenSource serves tokens for one cache query. Cached, unexpired
// tokens are returned directly; otherwise the upstream source is consulted
// and its result written back to the cache.
type PersistentTokenSource struct {
	factory TokenSourceFactory
	cache   *tokencache.Cache
	query   entry.Entry

	// access token most recently persisted, to skip redundant rewrites
	lastAccessToken atomic.Pointer[string]
	writeMu         sync.Mutex
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(factory TokenSourceFactory, cache *tokencache.Cache, query entry.Entry) (*PersistentTokenSource, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing token source factory")
	}
	if cache == nil {
		return nil, fmt.Errorf("missing token cache")
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("empty cache query")
	}

	return &PersistentTokenSource{
		factory: factory,
		cache:   cache,
		query:   query.Clone(),
	}, nil
}

// Token returns a valid token, consulting upstream and persisting the result
// when the cache holds none.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()

	cached := p.cachedToken(ctx)
	if cached != nil && cached.Valid() {
		return cached, nil
	}

	freshToken, err := p.factory(cached).Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}

	lastPtr := p.lastAccessToken.Load()
	if lastPtr == nil || *lastPtr != freshToken.AccessToken {
		p.persist(ctx, freshToken)
	}

	return freshToken, nil
}

// cachedToken returns the most usable cached token, or nil. A cache that
// cannot be read is treated as empty.
func (p *PersistentTokenSource) cachedToken(ctx context.Context) *oauth2.Token {
	found, err := p.cache.Find(ctx, p.query)
	if err != nil {
		slog.WarnContext(ctx, "token cache unavailable, ignoring cached credentials", "error", err)
		return nil
	}

	var best *oauth2.Token
	for _, e := range found {
		tok, ok := TokenFromEntry(e)
		if !ok {
			continue
		}
		if tok.Valid() {
			return tok
		}
		// keep an expired token around for its refresh token
		if best == nil || (best.RefreshToken == "" && tok.RefreshToken != "") {
			best = tok
		}
	}
	return best
}

func (p *PersistentTokenSource) persist(ctx context.Context, tok *oauth2.Token) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	replaced, err := p.cache.Replace(ctx, p.query, EntryFromToken(p.query, tok))
	if err != nil {
		// The token is still usable; the next call retries the write.
		slog.ErrorContext(ctx, "failed to persist token", "error", err)
		return
	}

	accessToken := tok.AccessToken
	p.lastAccessToken.Store(&accessToken)
	slog.DebugContext(ctx, "persisted token", "replaced", len(replaced), "expiry", tok.Expiry)
}

// EntryFromToken builds a cache entry from base's identifying fields and tok.
func EntryFromToken(base entry.Entry, tok *oauth2.Token) entry.Entry {
	e := base.Clone()
	if e == nil {
		e = entry.Entry{}
	}

	e[entry.FieldAccessToken] = entry.String(tok.AccessToken)
	if tok.RefreshToken != "" {
		e[entry.FieldRefreshToken] = entry.String(tok.RefreshToken)
		e[entry.FieldIsMRRT] = entry.Bool(true)
	}
	if tok.TokenType != "" {
		e[entry.FieldTokenType] = entry.String(tok.TokenType)
	}
	if !tok.Expiry.IsZero() {
		e[entry.FieldExpiresOn] = entry.Time(tok.Expiry)
	}
	return e
}

// TokenFromEntry extracts an oauth2.Token from e. It reports false when e
// carries no access token. The expiry is read from either a typed timestamp
// or its persisted string form.
func TokenFromEntry(e entry.Entry) (*oauth2.Token, bool) {
	accessToken := e.Get(entry.FieldAccessToken).String()
	if accessToken == "" {
		return nil, false
	}

	tok := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: e.Get(entry.FieldRefreshToken).String(),
		TokenType:    e.Get(entry.FieldTokenType).String(),
	}

	expiresOn := e.Get(entry.FieldExpiresOn)
	if t, ok := expiresOn.AsTime(); ok {
		tok.Expiry = t
	} else if s := expiresOn.String(); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			// unparseable expiry: treat as already expired
			t = time.Unix(1, 0)
		}
		tok.Expiry = t
	}
	return tok, true
}
