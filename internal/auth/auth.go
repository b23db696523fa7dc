// Package auth resolves client credentials into a stable user identifier.
// The identity provider itself is an external collaborator; this package is
// the thin stand-in that maps opaque bearer tokens onto user ids and threads
// the id explicitly through request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator maps an opaque bearer token onto a user id.
type Authenticator interface {
	UserIDForToken(token string) (string, error)
}

// TokenRegistry is a static token -> user-id table, loaded from
// configuration. Suitable for single-tenant deployments and tests.
type TokenRegistry struct {
	tokens map[string]string
}

func NewTokenRegistry(tokens map[string]string) *TokenRegistry {
	m := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		token = strings.TrimSpace(token)
		userID = strings.TrimSpace(userID)
		if token == "" || userID == "" {
			continue
		}
		m[token] = userID
	}
	return &TokenRegistry{tokens: m}
}

// ParseTokenPairs parses the AUTH_TOKENS format "token=userID,token2=userID2".
func ParseTokenPairs(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(token)] = strings.TrimSpace(userID)
	}
	return out
}

func (r *TokenRegistry) UserIDForToken(token string) (string, error) {
	userID, ok := r.tokens[token]
	if !ok {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// BearerToken extracts the bearer token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
