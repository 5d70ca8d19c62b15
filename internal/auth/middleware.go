// middleware.go — HTTP middleware for session enforcement.
// Bearer token extraction, context injection, and the optional variant used
// by the media gate (which must distinguish "no session" from "bad session").
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is an unexported type to avoid context key collisions.
type contextKey struct{}

// RequireSession validates the Bearer session token and injects the Session
// into the request context. Responds 401 JSON on failure.
func (m *Manager) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing_session", "Authorization header required")
			return
		}

		sess, err := m.Validate(r.Context(), tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_session", "Invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Attach validates the Bearer token if present and injects the Session on
// success, but never rejects the request. The media gate uses this: whether a
// missing session matters depends on whether device limiting is enabled.
func (m *Manager) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStr := extractBearerToken(r); tokenStr != "" {
			if sess, err := m.Validate(r.Context(), tokenStr); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), contextKey{}, sess))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext returns the validated session, or nil when the request
// carried none.
func SessionFromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(contextKey{}).(*Session); ok {
		return s
	}
	return nil
}

// extractBearerToken pulls the token from "Authorization: Bearer <token>".
// Returns empty string if the header is missing or malformed.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
