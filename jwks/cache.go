package jwks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// Defaults for the key-set cache.
const (
	DefaultCacheTTL     = time.Hour
	DefaultFetchTimeout = 30 * time.Second
)

// KeySource produces a key set. *Fetcher is the production implementation;
// tests substitute a counting fake.
type KeySource interface {
	Fetch(ctx context.Context) (jwk.Set, error)
}

// Logger is an optional logging interface for the cache.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Cache holds the most recently fetched key set with a TTL. Concurrent
// refreshes are coalesced into a single in-flight fetch; every waiter gets
// that one fetch's result. A fetched set is immutable and is superseded
// wholesale by the next successful fetch, never mutated in place.
type Cache struct {
	source       KeySource
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       Logger

	mu        sync.RWMutex
	set       jwk.Set
	expiresAt time.Time

	group singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache) error

// WithTTL sets how long a fetched key set is considered fresh.
//
// Default: DefaultCacheTTL (1 hour). Keys rotate infrequently.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) error {
		if ttl <= 0 {
			return errors.New("cache TTL must be positive")
		}
		c.ttl = ttl
		return nil
	}
}

// WithFetchTimeout bounds the shared refresh fetch. The fetch runs on its
// own context so that one waiter's cancellation cannot abort a fetch other
// waiters depend on.
//
// Default: DefaultFetchTimeout.
func WithFetchTimeout(timeout time.Duration) CacheOption {
	return func(c *Cache) error {
		if timeout <= 0 {
			return errors.New("fetch timeout must be positive")
		}
		c.fetchTimeout = timeout
		return nil
	}
}

// WithCacheClock overrides the cache's time source. Intended for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

// WithCacheLogger sets an optional logger for refresh diagnostics.
func WithCacheLogger(logger Logger) CacheOption {
	return func(c *Cache) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// NewCache builds a Cache around the given key source.
func NewCache(source KeySource, opts ...CacheOption) (*Cache, error) {
	if source == nil {
		return nil, errors.New("key source is required but was nil")
	}

	c := &Cache{
		source:       source,
		ttl:          DefaultCacheTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return c, nil
}

// Get returns the cached key set if present and unexpired, refreshing it
// otherwise. When a refresh fails and a stale set is still held, the stale
// set is returned: availability wins over strict freshness for key material.
// Only on a cold start does a fetch failure propagate.
func (c *Cache) Get(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set, fresh := c.set, c.now().Before(c.expiresAt)
	c.mu.RUnlock()

	if set != nil && fresh {
		return set, nil
	}

	refreshed, err := c.refresh(ctx)
	if err != nil {
		if set != nil {
			if c.logger != nil {
				c.logger.Warnf("key-set refresh failed, serving stale set: %v", err)
			}
			return set, nil
		}
		return nil, err
	}

	return refreshed, nil
}

// ForceRefresh fetches a fresh key set unconditionally and never falls back
// to the stale set. It is the out-of-band refresh used when a token
// references a key id the cached set does not contain.
func (c *Cache) ForceRefresh(ctx context.Context) (jwk.Set, error) {
	return c.refresh(ctx)
}

// Invalidate marks the cached set as expired. The set itself is retained so
// that a later failed refresh can still fall back to it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// refresh coalesces concurrent callers into one underlying fetch. The fetch
// runs on a detached context with its own timeout: a canceled caller stops
// waiting, but the shared fetch keeps going for everyone else.
func (c *Cache) refresh(ctx context.Context) (jwk.Set, error) {
	ch := c.group.DoChan("keyset", func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()

		set, err := c.source.Fetch(fctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.set = set
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()

		if c.logger != nil {
			c.logger.Debugf("key set refreshed, %d keys cached", set.Len())
		}
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	}
}
