package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultExpiryBuffer = 60 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// TokenFetcher obtains a fresh access token and its lifetime.
type TokenFetcher func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds one access token per adapter. Refreshes are single-flight:
// concurrent callers that find the token stale share one fetch.
type TokenCache struct {
	fetch   TokenFetcher
	now     func() time.Time
	buffer  time.Duration
	timeout time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

type TokenCacheOption func(*TokenCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithExpiryBuffer sets how long before expiry a token is considered stale.
func WithExpiryBuffer(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.buffer = d }
}

// WithFetchTimeout bounds one shared refresh.
func WithFetchTimeout(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.timeout = d }
}

func NewTokenCache(fetch TokenFetcher, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		fetch:   fetch,
		now:     time.Now,
		buffer:  defaultExpiryBuffer,
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid access token, refreshing it if needed. A caller whose
// ctx ends stops waiting; the shared refresh carries on for the others.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (interface{}, error) {
		// Another caller may have refreshed while we waited to enter.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		tok, expiresIn, err := c.fetch(fetchCtx)
		if err != nil {
			return "", fmt.Errorf("refresh token: %w", err)
		}
		if tok == "" || expiresIn <= 0 {
			return "", fmt.Errorf("refresh token: %w", ErrUnexpectedResponse)
		}
		c.mu.Lock()
		c.token = tok
		c.expiry = c.now().Add(expiresIn)
		c.mu.Unlock()
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(c.buffer).Before(c.expiry) {
		return c.token, true
	}
	return "", false
}
