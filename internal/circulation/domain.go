// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"issuedesk/internal/fine"
)

type Status string

const (
	StatusIssued   Status = "issued"
	StatusReturned Status = "returned"
)

// IssueRecord is one lending transaction. Fine is settled only on return;
// while the record is issued the fine is previewed on demand.
type IssueRecord struct {
	ID         uuid.UUID       `json:"id"`
	ItemID     uuid.UUID       `json:"item_id"`
	BorrowerID uuid.UUID       `json:"borrower_id"`
	IssueDate  time.Time       `json:"issue_date"`
	DueDate    time.Time       `json:"due_date"`
	ReturnDate *time.Time      `json:"return_date,omitempty"`
	Status     Status          `json:"status"`
	Fine       decimal.Decimal `json:"fine"`
	Version    int             `json:"version"`
}

// Overdue reports whether the record is still issued past its due date.
func (r IssueRecord) Overdue(now time.Time) bool {
	return r.Status == StatusIssued && r.DueDate.Before(now)
}

// IssueView is a record plus the values derived from it at a reference time.
type IssueView struct {
	IssueRecord
	Overdue     bool            `json:"overdue"`
	OverdueDays int64           `json:"overdue_days"`
	FinePreview decimal.Decimal `json:"fine_preview"`
}

func viewOf(r IssueRecord, now time.Time, fines fine.Calculator) IssueView {
	v := IssueView{IssueRecord: r}
	if r.Status == StatusReturned {
		v.FinePreview = r.Fine
		return v
	}
	v.Overdue = r.Overdue(now)
	v.OverdueDays = fine.OverdueDays(r.DueDate, now)
	v.FinePreview = fines.Compute(r.DueDate, now)
	return v
}

// Stats summarizes the ledger for the admin dashboard.
type Stats struct {
	TotalIssues    int             `json:"total_issues"`
	Issued         int             `json:"issued"`
	Returned       int             `json:"returned"`
	Overdue        int             `json:"overdue"`
	FinesCollected decimal.Decimal `json:"fines_collected"`
	FinesAccruing  decimal.Decimal `json:"fines_accruing"`
}

// Filter narrows ListIssues. Zero fields match everything.
type Filter struct {
	Status     Status
	BorrowerID uuid.UUID
	ItemID     uuid.UUID
	OverdueAt  *time.Time
}

func (f Filter) matches(r IssueRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.BorrowerID != uuid.Nil && r.BorrowerID != f.BorrowerID {
		return false
	}
	if f.ItemID != uuid.Nil && r.ItemID != f.ItemID {
		return false
	}
	if f.OverdueAt != nil && !r.Overdue(*f.OverdueAt) {
		return false
	}
	return true
}

// ItemIssuedEvent is journaled when an item is issued.
type ItemIssuedEvent struct {
	IssueID    uuid.UUID `json:"issue_id"`
	ItemID     uuid.UUID `json:"item_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	IssueDate  time.Time `json:"issue_date"`
	DueDate    time.Time `json:"due_date"`
}

// ItemReturnedEvent is journaled when an item is returned.
type ItemReturnedEvent struct {
	IssueID    uuid.UUID       `json:"issue_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	ReturnDate time.Time       `json:"return_date"`
	Fine       decimal.Decimal `json:"fine"`
}
