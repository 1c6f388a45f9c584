// Package resultcache memoizes successful token verifications so that a
// still-valid token seen again within a short window skips the signature
// check. Failed verifications are never stored.
package resultcache

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/tokenforge/bearerauth/validator"
)

// DefaultTTL is the memoization window. Minutes, not hours: a short window
// trades a small staleness exposure for large repeated-request savings.
const DefaultTTL = 5 * time.Minute

// sweepThreshold is the entry count above which a Store call also purges
// expired entries.
const sweepThreshold = 1024

type entry struct {
	claims    *validator.ClaimSet
	expiresAt time.Time
}

// Cache is a concurrent map from token digest to verified claims. Tokens
// are never stored raw; the key is a one-way SHA-256 digest of the token
// string.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[[sha256.Size]byte]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the cache's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a Cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[[sha256.Size]byte]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the memoized claims for the token if a live entry exists.
func (c *Cache) Lookup(rawToken string) (*validator.ClaimSet, bool) {
	key := sha256.Sum256([]byte(rawToken))

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.claims, true
}

// Store memoizes a successful verification. The entry expires at
// min(now+TTL, token expiry): it never outlives the token's own stated
// lifetime, regardless of the configured TTL. Must only be called with
// claims returned by a successful verification.
func (c *Cache) Store(rawToken string, claims *validator.ClaimSet) {
	now := c.now()

	expiresAt := now.Add(c.ttl)
	if tokenExpiry := time.Unix(claims.Expiry, 0); tokenExpiry.Before(expiresAt) {
		expiresAt = tokenExpiry
	}
	if !expiresAt.After(now) {
		return
	}

	key := sha256.Sum256([]byte(rawToken))

	c.mu.Lock()
	if len(c.entries) >= sweepThreshold {
		c.sweepLocked(now)
	}
	c.entries[key] = entry{claims: claims, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Size reports the number of entries, live or not yet swept.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
