package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// HashAuthenticator checks API keys against a single bcrypt hash.
// Successful verifications are cached so bcrypt runs once per key per TTL.
type HashAuthenticator struct {
	hash   []byte
	cache  *KeyCache
	logger *zap.Logger
}

// HashAuthConfig configures the HashAuthenticator.
type HashAuthConfig struct {
	// KeyHash is the bcrypt hash of the accepted API key.
	KeyHash  string
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewHashAuthenticator creates an authenticator for one bcrypt-hashed key.
func NewHashAuthenticator(cfg HashAuthConfig) *HashAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HashAuthenticator{
		hash:   []byte(cfg.KeyHash),
		cache:  NewKeyCache(ttl),
		logger: logger,
	}
}

// Verify accepts apiKey when it matches the configured hash.
func (a *HashAuthenticator) Verify(_ context.Context, apiKey string) error {
	if apiKey == "" {
		return ErrMissingAPIKey
	}
	if a.cache.Verified(apiKey) {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(apiKey)); err != nil {
		a.logger.Debug("api key rejected", zap.Error(err))
		return ErrInvalidAPIKey
	}
	a.cache.Set(apiKey)
	return nil
}
