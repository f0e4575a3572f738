package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey = errors.New("missing authorization header")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Authenticator verifies the bearer API key presented by a caller.
type Authenticator interface {
	Verify(ctx context.Context, apiKey string) error
}

// AllowAll accepts every caller. Used when no key hash is configured.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, string) error { return nil }

// FromMetadata extracts the bearer token from incoming gRPC metadata.
func FromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	return bearer(values[0])
}

// FromRequest extracts the bearer token from an HTTP Authorization header.
func FromRequest(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingAPIKey
	}
	return bearer(h)
}

func bearer(header string) (string, error) {
	token := header
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	return token, nil
}
