package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const accountContextKey contextKey = "account"

// Middleware creates JWT authentication middleware
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccountFromContext extracts account claims from request context
func GetAccountFromContext(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(accountContextKey).(*Claims)
	return claims, ok
}
