// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"issuedesk/internal/catalog"
	"issuedesk/internal/fine"
	"issuedesk/internal/membership"
	"issuedesk/internal/telemetry"
)

const DefaultMaxLoanDays = 30

type Config struct {
	FineRate    decimal.Decimal
	MaxLoanDays int
}

// Ledger owns every issue record and derives item availability from the set
// of issued records. Issue and Return serialize per item; reads share an
// RWMutex snapshot.
type Ledger struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*IssueRecord
	active  map[uuid.UUID]uuid.UUID // item -> issued record
	locks   *keyLock

	catalog  Catalog
	identity Identity
	journal  Journal
	fines    fine.Calculator
	maxLoan  time.Duration

	logger    *slog.Logger
	tracer    trace.Tracer
	issued    metric.Int64Counter
	returned  metric.Int64Counter
	conflicts metric.Int64Counter
}

var _ Service = (*Ledger)(nil)

func NewLedger(catalog Catalog, identity Identity, journal Journal, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.MaxLoanDays <= 0 {
		cfg.MaxLoanDays = DefaultMaxLoanDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("issuedesk/circulation")
	return &Ledger{
		records:   make(map[uuid.UUID]*IssueRecord),
		active:    make(map[uuid.UUID]uuid.UUID),
		locks:     newKeyLock(),
		catalog:   catalog,
		identity:  identity,
		journal:   journal,
		fines:     fine.NewCalculator(cfg.FineRate),
		maxLoan:   time.Duration(cfg.MaxLoanDays) * fine.Day,
		logger:    logger.With("component", "ledger"),
		tracer:    otel.Tracer("issuedesk/circulation"),
		issued:    telemetry.Counter(meter, "circulation.issues", "Items issued"),
		returned:  telemetry.Counter(meter, "circulation.returns", "Items returned"),
		conflicts: telemetry.Counter(meter, "circulation.conflicts", "Rejected conflicting operations"),
	}
}

// Restore rebuilds ledger state from the journal. It must run before the
// ledger serves requests.
func (l *Ledger) Restore(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	err := l.journal.Replay(ctx, func(event any) error {
		n++
		switch e := event.(type) {
		case ItemIssuedEvent:
			l.records[e.IssueID] = &IssueRecord{
				ID:         e.IssueID,
				ItemID:     e.ItemID,
				BorrowerID: e.BorrowerID,
				IssueDate:  e.IssueDate,
				DueDate:    e.DueDate,
				Status:     StatusIssued,
				Version:    1,
			}
			l.active[e.ItemID] = e.IssueID
		case ItemReturnedEvent:
			rec, ok := l.records[e.IssueID]
			if !ok {
				return fmt.Errorf("return of unknown issue %s", e.IssueID)
			}
			returnDate := e.ReturnDate
			rec.ReturnDate = &returnDate
			rec.Fine = e.Fine
			rec.Status = StatusReturned
			rec.Version++
			delete(l.active, rec.ItemID)
		default:
			return fmt.Errorf("unexpected event %T", event)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}

	l.logger.Info("ledger restored", "events", n, "records", len(l.records), "active", len(l.active))
	return nil
}

// Issue lends an item to a borrower until dueDate.
func (l *Ledger) Issue(ctx context.Context, itemID, borrowerID uuid.UUID, dueDate, now time.Time) (*IssueRecord, error) {
	ctx, span := l.tracer.Start(ctx, "circulation.issue", trace.WithAttributes(
		attribute.String("item.id", itemID.String()),
		attribute.String("borrower.id", borrowerID.String()),
	))
	defer span.End()

	unlock := l.locks.Lock(itemKey(itemID), borrowerKey(borrowerID))
	defer unlock()

	if ok, err := l.catalog.ItemExists(ctx, itemID); err != nil {
		return nil, fmt.Errorf("failed to check item: %w", err)
	} else if !ok {
		return nil, notFoundErr("item %s", itemID)
	}
	if ok, err := l.identity.BorrowerExists(ctx, borrowerID); err != nil {
		return nil, fmt.Errorf("failed to check borrower: %w", err)
	} else if !ok {
		return nil, notFoundErr("borrower %s", borrowerID)
	}

	l.mu.RLock()
	activeID, busy := l.active[itemID]
	l.mu.RUnlock()
	if busy {
		l.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "issue")))
		return nil, conflictErr("item %s is already issued under %s", itemID, activeID)
	}

	if err := validateDueDate(dueDate, now, l.maxLoan); err != nil {
		return nil, err
	}

	rec := &IssueRecord{
		ID:         uuid.New(),
		ItemID:     itemID,
		BorrowerID: borrowerID,
		IssueDate:  now,
		DueDate:    dueDate,
		Status:     StatusIssued,
		Version:    1,
	}
	err := l.journal.Append(ctx, rec.ID, 0, ItemIssuedEvent{
		IssueID:    rec.ID,
		ItemID:     itemID,
		BorrowerID: borrowerID,
		IssueDate:  now,
		DueDate:    dueDate,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to journal issue: %w", err)
	}

	l.mu.Lock()
	l.records[rec.ID] = rec
	l.active[itemID] = rec.ID
	out := *rec
	l.mu.Unlock()

	l.projectAvailability(ctx, itemID, false)
	l.issued.Add(ctx, 1)
	l.logger.Info("item issued", "issue_id", rec.ID, "item_id", itemID, "borrower_id", borrowerID, "due_date", dueDate)
	return &out, nil
}

// Return settles an issued record and frees its item.
func (l *Ledger) Return(ctx context.Context, issueID uuid.UUID, now time.Time) (*IssueRecord, error) {
	ctx, span := l.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("issue.id", issueID.String()),
	))
	defer span.End()

	l.mu.RLock()
	rec, ok := l.records[issueID]
	var itemID uuid.UUID
	if ok {
		itemID = rec.ItemID
	}
	l.mu.RUnlock()
	if !ok {
		return nil, notFoundErr("issue %s", issueID)
	}

	unlock := l.locks.Lock(itemKey(itemID))
	defer unlock()

	l.mu.RLock()
	current := *rec
	l.mu.RUnlock()

	if err := transition(current, StatusReturned); err != nil {
		l.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "return")))
		return nil, err
	}

	amount := l.fines.Compute(current.DueDate, now)
	err := l.journal.Append(ctx, issueID, current.Version, ItemReturnedEvent{
		IssueID:    issueID,
		ItemID:     itemID,
		ReturnDate: now,
		Fine:       amount,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to journal return: %w", err)
	}

	l.mu.Lock()
	returnDate := now
	rec.ReturnDate = &returnDate
	rec.Fine = amount
	rec.Status = StatusReturned
	rec.Version++
	delete(l.active, itemID)
	out := *rec
	l.mu.Unlock()

	l.projectAvailability(ctx, itemID, true)
	l.returned.Add(ctx, 1)
	l.logger.Info("item returned", "issue_id", issueID, "item_id", itemID, "fine", amount.StringFixed(2))
	return &out, nil
}

// projectAvailability pushes the derived availability to the catalog. The
// ledger stays authoritative, so a failed push is logged and not rolled back.
func (l *Ledger) projectAvailability(ctx context.Context, itemID uuid.UUID, available bool) {
	if err := l.catalog.SetAvailability(ctx, itemID, available); err != nil {
		l.logger.Warn("failed to project availability", "item_id", itemID, "available", available, "err", err)
	}
}

func (l *Ledger) Get(_ context.Context, issueID uuid.UUID, now time.Time) (*IssueView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[issueID]
	if !ok {
		return nil, notFoundErr("issue %s", issueID)
	}
	v := viewOf(*rec, now, l.fines)
	return &v, nil
}

// Stats counts records by status at now. Accruing fines are previews for
// records still issued.
func (l *Ledger) Stats(_ context.Context, now time.Time) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{TotalIssues: len(l.records), FinesCollected: decimal.Zero, FinesAccruing: decimal.Zero}
	for _, rec := range l.records {
		switch rec.Status {
		case StatusReturned:
			s.Returned++
			s.FinesCollected = s.FinesCollected.Add(rec.Fine)
		case StatusIssued:
			s.Issued++
			if rec.Overdue(now) {
				s.Overdue++
				s.FinesAccruing = s.FinesAccruing.Add(l.fines.Compute(rec.DueDate, now))
			}
		}
	}
	return s
}

// ListIssues returns matching records, most recently issued first.
func (l *Ledger) ListIssues(_ context.Context, filter Filter, now time.Time) []IssueView {
	l.mu.RLock()
	views := make([]IssueView, 0, len(l.records))
	for _, rec := range l.records {
		if filter.matches(*rec) {
			views = append(views, viewOf(*rec, now, l.fines))
		}
	}
	l.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if !views[i].IssueDate.Equal(views[j].IssueDate) {
			return views[i].IssueDate.After(views[j].IssueDate)
		}
		return views[i].ID.String() < views[j].ID.String()
	})
	return views
}

// ListOverdue returns issued records past due at now, oldest due date first.
func (l *Ledger) ListOverdue(_ context.Context, now time.Time) []IssueView {
	l.mu.RLock()
	views := make([]IssueView, 0)
	for _, id := range l.active {
		rec := l.records[id]
		if rec.Overdue(now) {
			views = append(views, viewOf(*rec, now, l.fines))
		}
	}
	l.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		if !views[i].DueDate.Equal(views[j].DueDate) {
			return views[i].DueDate.Before(views[j].DueDate)
		}
		return views[i].ID.String() < views[j].ID.String()
	})
	return views
}

// Available reports whether no issued record references the item.
func (l *Ledger) Available(ctx context.Context, itemID uuid.UUID) (bool, error) {
	if ok, err := l.catalog.ItemExists(ctx, itemID); err != nil {
		return false, fmt.Errorf("failed to check item: %w", err)
	} else if !ok {
		return false, notFoundErr("item %s", itemID)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, busy := l.active[itemID]
	return !busy, nil
}

// RemoveItem deletes an item from the catalog unless it is on loan.
func (l *Ledger) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	unlock := l.locks.Lock(itemKey(itemID))
	defer unlock()

	l.mu.RLock()
	_, busy := l.active[itemID]
	l.mu.RUnlock()
	if busy {
		return conflictErr("active loan exists for item %s", itemID)
	}

	if err := l.catalog.DeleteItem(ctx, itemID); err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return notFoundErr("item %s", itemID)
		}
		return fmt.Errorf("failed to delete item: %w", err)
	}
	l.logger.Info("item removed", "item_id", itemID)
	return nil
}

// RemoveBorrower deletes a borrower unless they hold an issued item.
func (l *Ledger) RemoveBorrower(ctx context.Context, borrowerID uuid.UUID) error {
	unlock := l.locks.Lock(borrowerKey(borrowerID))
	defer unlock()

	l.mu.RLock()
	holding := 0
	for _, id := range l.active {
		if l.records[id].BorrowerID == borrowerID {
			holding++
		}
	}
	l.mu.RUnlock()
	if holding > 0 {
		return conflictErr("active loan exists: borrower %s holds %d item(s)", borrowerID, holding)
	}

	if err := l.identity.DeleteBorrower(ctx, borrowerID); err != nil {
		if errors.Is(err, membership.ErrBorrowerNotFound) {
			return notFoundErr("borrower %s", borrowerID)
		}
		return fmt.Errorf("failed to delete borrower: %w", err)
	}
	l.logger.Info("borrower removed", "borrower_id", borrowerID)
	return nil
}
