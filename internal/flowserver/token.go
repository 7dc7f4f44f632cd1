package flowserver

import (
	"context"
	"sync"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/cache"
	"github.com/agentworkforce/sanitycheck/internal/config"
)

// TokenTTL is how long an issued access token is reused.
const TokenTTL = 55 * time.Minute

const tokenKeyPrefix = "token:"

// Authenticator exchanges server credentials for an access token.
type Authenticator func(ctx context.Context, cfg config.ExecServer) (string, error)

// TokenCache memoizes access tokens per user and server fingerprint.
// Concurrent misses on the same key share one authentication call.
type TokenCache struct {
	store *cache.Store
	ttl   time.Duration

	mu   sync.Mutex
	last map[string]string
}

type TokenCacheOption func(*TokenCache)

// WithTokenClock sets the clock entries expire against.
func WithTokenClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.store = cache.New(cache.WithClock(now), cache.WithDefaultTTL(c.ttl))
	}
}

func NewTokenCache(opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		store: cache.New(cache.WithDefaultTTL(TokenTTL)),
		ttl:   TokenTTL,
		last:  map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token for user under cfg, authenticating when
// there is none. A changed fingerprint drops the user's previous token.
func (c *TokenCache) Token(ctx context.Context, user string, cfg config.ExecServer, auth Authenticator) (string, error) {
	fp := cfg.Fingerprint()
	c.mu.Lock()
	if prev, ok := c.last[user]; ok && prev != fp {
		c.store.InvalidatePrefix(userPrefix(user))
	}
	c.last[user] = fp
	c.mu.Unlock()

	return cache.Load(ctx, c.store, userPrefix(user)+fp, c.ttl, func(ctx context.Context) (string, error) {
		return auth(ctx, cfg)
	})
}

// Invalidate drops every token of user.
func (c *TokenCache) Invalidate(user string) {
	c.store.InvalidatePrefix(userPrefix(user))
}

// Reset drops every token.
func (c *TokenCache) Reset() {
	c.mu.Lock()
	c.last = map[string]string{}
	c.mu.Unlock()
	c.store.Clear()
}

func userPrefix(user string) string {
	return tokenKeyPrefix + user + "|"
}
