package auth

import (
	"crypto/sha256"
	"sync"
	"time"
)

// KeyCache remembers API keys that recently passed bcrypt verification.
// Entries are keyed by the SHA-256 of the key so plaintext keys never sit in memory
// longer than a request. Uses sync.Map for lock-free reads on the hot path.
type KeyCache struct {
	store sync.Map // map[[32]byte]time.Time (expiry)
	ttl   time.Duration
}

// NewKeyCache creates a cache with the given TTL.
func NewKeyCache(ttl time.Duration) *KeyCache {
	return &KeyCache{ttl: ttl}
}

// Verified reports whether apiKey was verified within the TTL.
// Expired entries are dropped.
func (c *KeyCache) Verified(apiKey string) bool {
	k := sha256.Sum256([]byte(apiKey))
	val, ok := c.store.Load(k)
	if !ok {
		return false
	}
	if time.Now().Before(val.(time.Time)) {
		return true
	}
	c.store.Delete(k)
	return false
}

// Set records apiKey as verified for the configured TTL.
func (c *KeyCache) Set(apiKey string) {
	c.store.Store(sha256.Sum256([]byte(apiKey)), time.Now().Add(c.ttl))
}
