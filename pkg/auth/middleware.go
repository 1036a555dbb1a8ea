// Package auth provides authentication and authorization.
package auth

import (
	"net/http"
	"strings"
)

// HTTPMiddleware creates HTTP middleware for JWT authentication. It
// extracts the token from the Authorization header, validates it, and
// attaches claims to the request context.
func HTTPMiddleware(validator TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error":"Missing Authorization header"}`, http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, `{"error":"Invalid Authorization format, expected: Bearer <token>"}`, http.StatusUnauthorized)
			return
		}

		claims, err := validator.ValidateToken(r.Context(), tokenString)
		if err != nil {
			http.Error(w, `{"error":"Unauthorized: `+err.Error()+`"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// GetClaims extracts claims from the request context. Returns nil if
// the request was never authenticated.
func GetClaims(r *http.Request) *Claims {
	return ClaimsFromContext(r.Context())
}

// RequireRole wraps a handler so it additionally rejects callers whose
// claims lack one of allowedRoles, after HTTPMiddleware has run.
func RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !claims.HasAnyRole(allowedRoles...) {
				http.Error(w, `{"error":"forbidden: insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateQueryToken validates the bearer token passed as a query
// parameter, used by the progress channel's websocket handshake where
// browsers cannot set an Authorization header.
func ValidateQueryToken(validator TokenValidator, r *http.Request, param string) (*Claims, error) {
	token := r.URL.Query().Get(param)
	if token == "" {
		return nil, ErrUnauthorized
	}
	return validator.ValidateToken(r.Context(), token)
}
