// internal/httpapi/middleware.go
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"issuedesk/internal/access"
)

// SessionResolver turns the Authorization header into a Session.
type SessionResolver interface {
	Resolve(ctx context.Context, header string) access.Session
}

const retryAfterSeconds = "1"

// Sessions attaches a freshly resolved session to every request.
func Sessions(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
			next.ServeHTTP(w, r.WithContext(access.WithSession(r.Context(), s)))
		})
	}
}

// Require runs the gate before the handler. Wait becomes 503 with
// Retry-After; a login redirect becomes 401 and a landing redirect 403.
func Require(gate access.Gate, roles ...access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := access.FromContext(r.Context())
			d := gate.Decide(session, roles...)
			switch {
			case d.Outcome == access.OutcomeWait:
				w.Header().Set("Retry-After", retryAfterSeconds)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "session not resolved"})
			case d.Outcome == access.OutcomeRedirect && !session.SignedIn():
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "authentication required", "redirect": d.Target})
			case d.Outcome == access.OutcomeRedirect:
				writeJSON(w, http.StatusForbidden, map[string]string{"message": "insufficient role", "redirect": d.Target})
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
