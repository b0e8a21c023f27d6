// Package identity resolves which chat session and client a request belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// SessionHeaderName carries the client's chat session id.
	SessionHeaderName = "X-Chat-Session-ID"
	// DefaultSessionIDValue is used when a request names no valid session.
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	clientKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the chat session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// ClientKeyFromContext returns the key used to throttle the requesting client.
func ClientKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientKey).(string); ok {
		return v
	}
	return ""
}

// SanitizeSessionID returns id if it is a usable session id, else the default.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return SanitizeSessionID(sid)
}

// Middleware injects the session ID and client key into the request context.
// The client key is the remote IP so rotating session ids does not reset throttling.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), sessionIDKey, sessionIDFromRequest(r))
		ctx = context.WithValue(ctx, clientKey, IPFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithSessionID returns a context carrying the given session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, SanitizeSessionID(id))
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
