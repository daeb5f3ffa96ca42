// Package auth provides the bearer token authentication of the cache admin
// API.
package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted by a token.
const (
	ScopeCacheRead  = "cache:read"
	ScopeCacheWrite = "cache:write"
)

// DefaultScopes is what `stackd token issue` grants when none are given.
var DefaultScopes = []string{ScopeCacheRead, ScopeCacheWrite}

// Claims represents the JWT claims accepted by stackd.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes limits what the bearer may do. Empty means no access.
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope returns true if the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
