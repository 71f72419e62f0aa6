// internal/httpapi/router.go
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"issuedesk/internal/access"
	"issuedesk/internal/auth"
	"issuedesk/internal/circulation"
	"issuedesk/internal/reminder"
)

type Deps struct {
	Circulation *circulation.Handler
	Reminders   *reminder.Handler
	Auth        *auth.Handler
	Sessions    SessionResolver
	Gate        access.Gate
	Logger      *slog.Logger
}

// NewRouter mounts the API under /api/v1. Every route except login passes
// through the gate.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Sessions(d.Sessions))

		r.Post("/auth/login", d.Auth.HandleLogin)
		r.With(Require(d.Gate)).Post("/auth/logout", d.Auth.HandleLogout)

		r.With(Require(d.Gate)).Get("/items/{id}/availability", d.Circulation.HandleAvailability)
		r.With(Require(d.Gate)).Get("/issues/borrower/{id}", d.Circulation.HandleBorrowerIssues)

		r.Group(func(r chi.Router) {
			r.Use(Require(d.Gate, access.Staff...))

			r.Post("/issues", d.Circulation.HandleIssue)
			r.Get("/issues", d.Circulation.HandleList)
			r.Get("/issues/overdue", d.Circulation.HandleListOverdue)
			r.Get("/issues/stats", d.Circulation.HandleStats)
			r.Post("/issues/reminders", d.Reminders.HandleDispatch)
			r.Get("/issues/{id}", d.Circulation.HandleGet)
			r.Put("/issues/{id}/return", d.Circulation.HandleReturn)
			r.Delete("/items/{id}", d.Circulation.HandleRemoveItem)
			r.Delete("/borrowers/{id}", d.Circulation.HandleRemoveBorrower)
		})
	})
	return r
}
