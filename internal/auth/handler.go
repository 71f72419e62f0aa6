// internal/auth/handler.go
package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"issuedesk/internal/access"
	"issuedesk/internal/membership"
)

type Handler struct {
	credentials membership.CredentialSource
	issuer      *Issuer
	revoked     *Revocations
	limiter     *rate.Limiter
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandler(credentials membership.CredentialSource, issuer *Issuer, revoked *Revocations, logger *slog.Logger) *Handler {
	return &Handler{
		credentials: credentials,
		issuer:      issuer,
		revoked:     revoked,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 10),
		validate:    validator.New(),
		logger:      logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expires_at"`
	Borrower  *membership.Borrower `json:"borrower"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "validation error", "errors": err.Error()})
		return
	}

	borrower, err := membership.Authenticate(r.Context(), h.credentials, req.Email, req.Password)
	switch {
	case errors.Is(err, membership.ErrInvalidCredentials), errors.Is(err, membership.ErrBorrowerNotFound):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	case err != nil:
		h.logger.Error("login", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	token, expires, err := h.issuer.Issue(borrower.ID)
	if err != nil {
		h.logger.Error("login", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	h.logger.Info("borrower logged in", "borrower_id", borrower.ID, "role", borrower.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, Borrower: borrower})
}

// HandleLogout revokes the token that authenticated the request.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session := access.FromContext(r.Context())
	if !session.SignedIn() || session.TokenID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.revoked.Revoke(session.TokenID, time.Now().Add(h.issuer.ttl))
	h.logger.Info("borrower logged out", "borrower_id", session.BorrowerID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
