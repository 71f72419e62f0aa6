// internal/auth/resolver.go
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"issuedesk/internal/access"
	"issuedesk/internal/membership"
)

// Identity looks up the current borrower record.
type Identity interface {
	GetBorrower(ctx context.Context, id uuid.UUID) (*membership.Borrower, error)
}

// Resolver turns a bearer token into a Session, re-reading the role each time.
type Resolver struct {
	issuer   *Issuer
	identity Identity
	revoked  *Revocations
	logger   *slog.Logger
}

func NewResolver(issuer *Issuer, identity Identity, revoked *Revocations, logger *slog.Logger) *Resolver {
	return &Resolver{issuer: issuer, identity: identity, revoked: revoked, logger: logger}
}

// Resolve never fails. A token that cannot be trusted yields Anonymous; an
// identity lookup that fails for any other reason yields Pending.
func (r *Resolver) Resolve(ctx context.Context, header string) access.Session {
	if header == "" {
		return access.Anonymous()
	}
	claims, borrowerID, err := r.issuer.Parse(header)
	if err != nil {
		r.logger.Debug("rejected token", "err", err)
		return access.Anonymous()
	}
	if r.revoked.Revoked(claims.ID) {
		return access.Anonymous()
	}

	borrower, err := r.identity.GetBorrower(ctx, borrowerID)
	switch {
	case errors.Is(err, membership.ErrBorrowerNotFound):
		return access.Anonymous()
	case err != nil:
		r.logger.Warn("identity lookup failed", "borrower_id", borrowerID, "err", err)
		return access.Pending()
	}

	role := access.ParseRole(string(borrower.Role))
	if role == access.RoleAnonymous {
		r.logger.Warn("borrower has no recognised role", "borrower_id", borrower.ID, "role", borrower.Role)
		return access.Anonymous()
	}
	s := access.Authenticated(borrower.ID, role)
	s.TokenID = claims.ID
	return s
}
