// Package middleware provides HTTP middleware for the agent server.
package middleware

import (
	"net/http"

	"github.com/ashureev/agent-chat/internal/identity"
	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers for the given origins.
// Credentials are only allowed when every origin is explicit.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", identity.SessionHeaderName},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
