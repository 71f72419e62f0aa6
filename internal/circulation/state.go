// internal/circulation/state.go
package circulation

import "time"

// transitions lists the legal moves of an issue record. returned is terminal.
var transitions = map[Status][]Status{
	StatusIssued: {StatusReturned},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(r IssueRecord, to Status) error {
	if !CanTransition(r.Status, to) {
		return conflictErr("issue %s cannot move from %s to %s", r.ID, r.Status, to)
	}
	return nil
}

// minLoan is the shortest loan accepted; a due date must be at least a day out.
const minLoan = 24 * time.Hour

// validateDueDate enforces that due lies in [now+1d, now+maxLoan].
func validateDueDate(due, now time.Time, maxLoan time.Duration) error {
	if due.IsZero() {
		return validationErr("due date is required")
	}
	if due.Sub(now) < minLoan {
		return validationErr("due date %s must be at least one day after %s", due.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if due.Sub(now) > maxLoan {
		return validationErr("due date %s is more than %d days out", due.Format(time.RFC3339), int(maxLoan/(24*time.Hour)))
	}
	return nil
}
