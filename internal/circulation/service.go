// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"issuedesk/internal/catalog"
	"issuedesk/internal/membership"
)

// Service is the circulation surface exposed to callers.
type Service interface {
	Issue(ctx context.Context, itemID, borrowerID uuid.UUID, dueDate, now time.Time) (*IssueRecord, error)
	Return(ctx context.Context, issueID uuid.UUID, now time.Time) (*IssueRecord, error)
	Get(ctx context.Context, issueID uuid.UUID, now time.Time) (*IssueView, error)
	ListIssues(ctx context.Context, filter Filter, now time.Time) []IssueView
	ListOverdue(ctx context.Context, now time.Time) []IssueView
	Stats(ctx context.Context, now time.Time) Stats
	Available(ctx context.Context, itemID uuid.UUID) (bool, error)
	RemoveItem(ctx context.Context, itemID uuid.UUID) error
	RemoveBorrower(ctx context.Context, borrowerID uuid.UUID) error
}

// Catalog is the item store the ledger consults and projects availability to.
type Catalog interface {
	GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error)
	ItemExists(ctx context.Context, id uuid.UUID) (bool, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
}

// Identity is the borrower store.
type Identity interface {
	GetBorrower(ctx context.Context, id uuid.UUID) (*membership.Borrower, error)
	BorrowerExists(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteBorrower(ctx context.Context, id uuid.UUID) error
}

// Journal durably records ledger changes. Append must fail without side
// effects when expectedVersion is stale.
type Journal interface {
	Append(ctx context.Context, issueID uuid.UUID, expectedVersion int, event any) error
	Replay(ctx context.Context, apply func(event any) error) error
}
