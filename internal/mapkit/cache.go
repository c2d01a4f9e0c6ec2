package mapkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"trades-finder/internal/observability"
)

const (
	// AccessCredentialLifetime is how long the provider honours an access
	// credential. It is not returned in-band.
	AccessCredentialLifetime = 30 * time.Minute

	cacheLifetimeRatio = 0.83
)

type serverTokenMinter interface {
	ServerToken() (string, error)
}

type exchanger interface {
	Exchange(ctx context.Context, assertion string) (string, error)
}

// AccessCache holds one access credential and refreshes it when its safety
// margin is reached. Concurrent misses share a single exchange.
type AccessCache struct {
	minter    serverTokenMinter
	exchanger exchanger
	lifetime  time.Duration
	margin    time.Duration
	now       func() time.Time
	logger    *observability.Logger

	mu         sync.Mutex
	credential string
	expiresAt  time.Time

	group singleflight.Group
}

func NewAccessCache(minter serverTokenMinter, exchanger exchanger, logger *observability.Logger) *AccessCache {
	lifetime := AccessCredentialLifetime
	return &AccessCache{
		minter:    minter,
		exchanger: exchanger,
		lifetime:  lifetime,
		margin:    lifetime - time.Duration(float64(lifetime)*cacheLifetimeRatio),
		now:       time.Now,
		logger:    logger,
	}
}

func (c *AccessCache) WithClock(now func() time.Time) *AccessCache {
	c.now = now
	return c
}

// Get returns the cached credential, exchanging a fresh server assertion
// when the cache is empty or inside its safety margin. Failures are not
// cached.
func (c *AccessCache) Get(ctx context.Context) (string, error) {
	entry, err := c.get(ctx)
	if err != nil {
		return "", err
	}
	return entry.credential, nil
}

func (c *AccessCache) get(ctx context.Context) (cacheEntry, error) {
	if entry, ok := c.cached(); ok {
		observability.AccessCredentialLookups.WithLabelValues("hit").Inc()
		return entry, nil
	}

	value, err, _ := c.group.Do("access", func() (any, error) {
		if entry, ok := c.cached(); ok {
			return entry, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		observability.AccessCredentialLookups.WithLabelValues("error").Inc()
		c.logger.Error("mapkit_access_refresh_failed", map[string]any{"error": err.Error()})
		return cacheEntry{}, err
	}

	observability.AccessCredentialLookups.WithLabelValues("refresh").Inc()
	return value.(cacheEntry), nil
}

// Invalidate drops the cached credential, for example after the provider
// rejected it.
func (c *AccessCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = ""
	c.expiresAt = time.Time{}
}

// TokenSource adapts the cache for oauth2 clients. Expiry is set to the
// cache's own refresh point so oauth2 never holds a credential longer than
// the cache does.
func (c *AccessCache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, cache: c}
}

type tokenSource struct {
	ctx   context.Context
	cache *AccessCache
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	entry, err := s.cache.get(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: entry.credential, TokenType: "Bearer", Expiry: entry.refreshAt}, nil
}

type cacheEntry struct {
	credential string
	refreshAt  time.Time
}

func (c *AccessCache) cached() (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credential == "" {
		return cacheEntry{}, false
	}
	refreshAt := c.expiresAt.Add(-c.margin)
	if !refreshAt.After(c.now()) {
		return cacheEntry{}, false
	}
	return cacheEntry{credential: c.credential, refreshAt: refreshAt}, true
}

func (c *AccessCache) refresh(ctx context.Context) (cacheEntry, error) {
	assertion, err := c.minter.ServerToken()
	if err != nil {
		return cacheEntry{}, err
	}

	credential, err := c.exchanger.Exchange(ctx, assertion)
	if err != nil {
		return cacheEntry{}, fmt.Errorf("exchange access credential: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = credential
	c.expiresAt = c.now().Add(c.lifetime)

	return cacheEntry{credential: credential, refreshAt: c.expiresAt.Add(-c.margin)}, nil
}
