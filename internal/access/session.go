// internal/access/session.go
package access

import (
	"context"

	"github.com/google/uuid"
)

// Role is the closed set of roles a borrower can hold.
type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

// ParseRole maps a stored role string onto the enum. Unknown values are
// treated as anonymous so they never satisfy a role requirement.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleMember, RoleAdmin, RoleSuperAdmin:
		return Role(s)
	default:
		return RoleAnonymous
	}
}

// Staff is the role set allowed on every administrative route.
var Staff = []Role{RoleAdmin, RoleSuperAdmin}

type SessionState int

const (
	SessionPending SessionState = iota
	SessionAnonymous
	SessionAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionAnonymous:
		return "anonymous"
	case SessionAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is the already-resolved caller identity. It is built per request
// and threaded through the request context, never kept globally.
type Session struct {
	State      SessionState
	Role       Role
	BorrowerID uuid.UUID
	TokenID    string
}

// SignedIn reports whether the session is authenticated with a known role.
func (s Session) SignedIn() bool {
	return s.State == SessionAuthenticated && s.Role != RoleAnonymous
}

func Pending() Session   { return Session{State: SessionPending} }
func Anonymous() Session { return Session{State: SessionAnonymous, Role: RoleAnonymous} }

func Authenticated(borrowerID uuid.UUID, role Role) Session {
	return Session{State: SessionAuthenticated, Role: role, BorrowerID: borrowerID}
}

type sessionKey struct{}

// WithSession stores the session in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session attached to ctx, or an anonymous session.
func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s
	}
	return Anonymous()
}
