// Package middleware provides HTTP middlewares for bearer-token
// authentication and request logging.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const principalKey ctxKey = "principal"

// TokenVerifier turns a bearer token into the principal it is scoped to.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// BearerAuth enforces an Authorization: Bearer header on every request it
// wraps. On success the verified principal lands in the request context
// for handlers to read via PrincipalFromContext.
func BearerAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			principal, err := verifier.VerifyToken(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext extracts the authenticated principal from the
// request context. Returns an empty string if not found.
func PrincipalFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(principalKey).(string); ok {
		return s
	}
	return ""
}
