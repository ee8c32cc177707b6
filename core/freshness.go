package core

import (
	"strings"
	"time"
)

// TokenState is the lifecycle position of a key as seen from outside a
// refresh. Refreshing is represented by slot presence and is not reported
// here.
type TokenState string

const (
	TokenStateNoToken  TokenState = "no_token"
	TokenStateValid    TokenState = "valid"
	TokenStateExpiring TokenState = "expiring"
)

// ResolveTokenState applies the expiration buffer to a token's nominal expiry.
func ResolveTokenState(now time.Time, token string, expiresAt time.Time, buffer time.Duration) TokenState {
	if strings.TrimSpace(token) == "" || expiresAt.IsZero() {
		return TokenStateNoToken
	}
	if buffer < 0 {
		buffer = 0
	}
	if now.UTC().Before(expiresAt.UTC().Add(-buffer)) {
		return TokenStateValid
	}
	return TokenStateExpiring
}

// IsTokenUsable reports whether a token expiring at expiresAt may be handed
// out at now.
func IsTokenUsable(now time.Time, expiresAt time.Time, buffer time.Duration) bool {
	return ResolveTokenState(now, "token", expiresAt, buffer) == TokenStateValid
}

// CacheTTL derives the cache entry lifetime: remaining validity plus grace.
func CacheTTL(now time.Time, expiresAt time.Time, grace time.Duration) time.Duration {
	ttl := expiresAt.Sub(now) + grace
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
