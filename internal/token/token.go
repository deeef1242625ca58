// Package token mints and verifies the scoped bearer tokens issued when a
// pairing session is authenticated and when a user logs in.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/krypkey/krypkey/internal/kerr"
)

// DefaultTTL matches the original issuer's 24 hour token lifetime.
const DefaultTTL = 24 * time.Hour

// Manager signs and verifies HS256 tokens with a shared secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a Manager. A zero ttl falls back to DefaultTTL.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token scoped to the given principal.
func (m *Manager) Mint(principal string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principal,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", kerr.Authf("token: signing failed: %v", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the principal the token
// is scoped to. Every failure is an auth failure: the caller clears its
// cached token and re-authenticates.
func (m *Manager) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, kerr.Authf("token: unexpected signing method %v", t.Header["alg"])
			}
			return m.secret, nil
		})
	if err != nil || !parsed.Valid {
		return "", kerr.Authf("token: invalid or expired")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", kerr.Authf("token: missing subject")
	}
	return claims.Subject, nil
}
