// internal/access/gate.go
package access

import "slices"

const (
	DefaultLoginPath   = "/login"
	DefaultLandingPath = "/dashboard"
)

type Outcome int

const (
	OutcomeWait Outcome = iota
	OutcomePermit
	OutcomeRedirect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWait:
		return "wait"
	case OutcomePermit:
		return "permit"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the result of a gate evaluation. Target is only set for
// OutcomeRedirect.
type Decision struct {
	Outcome Outcome
	Target  string
}

func (d Decision) Permitted() bool { return d.Outcome == OutcomePermit }

// Gate decides whether a session may reach a role-restricted operation.
type Gate struct {
	LoginPath   string
	LandingPath string
}

func NewGate(loginPath, landingPath string) Gate {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	if landingPath == "" {
		landingPath = DefaultLandingPath
	}
	return Gate{LoginPath: loginPath, LandingPath: landingPath}
}

// Decide evaluates the session against the required roles. An empty role
// list admits any authenticated session that holds a known role.
func (g Gate) Decide(s Session, required ...Role) Decision {
	switch {
	case s.State == SessionPending:
		return Decision{Outcome: OutcomeWait}
	case s.SignedIn():
		if len(required) > 0 && !slices.Contains(required, s.Role) {
			return Decision{Outcome: OutcomeRedirect, Target: g.LandingPath}
		}
		return Decision{Outcome: OutcomePermit}
	default:
		return Decision{Outcome: OutcomeRedirect, Target: g.LoginPath}
	}
}
