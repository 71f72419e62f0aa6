// internal/reminder/dispatcher.go
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"issuedesk/internal/catalog"
	"issuedesk/internal/circulation"
	"issuedesk/internal/membership"
	"issuedesk/internal/telemetry"
)

const (
	ReasonNoPhone  = "no phone number"
	ReasonTimeout  = "timeout"
	ReasonNoLookup = "borrower not found"

	DefaultConcurrency = 8
	DefaultTimeout     = 10 * time.Second
)

// Notifier delivers one message to one phone number.
type Notifier interface {
	Send(ctx context.Context, phone, message string) error
}

// Overdue is the read side of the ledger the dispatcher needs.
type Overdue interface {
	ListOverdue(ctx context.Context, now time.Time) []circulation.IssueView
}

type Borrowers interface {
	GetBorrower(ctx context.Context, id uuid.UUID) (*membership.Borrower, error)
}

type Items interface {
	GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error)
}

type Delivery struct {
	IssueID    uuid.UUID `json:"issue_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	ItemID     uuid.UUID `json:"item_id"`
	Borrower   string    `json:"borrower"`
	Item       string    `json:"item"`
}

type Failure struct {
	Delivery
	Reason string `json:"reason"`
}

// Report aggregates one batch. Every overdue record appears in exactly one of
// Sent or Failed, in ListOverdue order.
type Report struct {
	TotalSent   int        `json:"total_sent"`
	TotalFailed int        `json:"total_failed"`
	Sent        []Delivery `json:"sent"`
	Failed      []Failure  `json:"failed"`
}

type Config struct {
	Concurrency int
	Timeout     time.Duration
}

type Dispatcher struct {
	ledger    Overdue
	borrowers Borrowers
	items     Items
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	sent      metric.Int64Counter
	failed    metric.Int64Counter

	mu           sync.Mutex
	lastReminded map[uuid.UUID]time.Time
}

func NewDispatcher(ledger Overdue, borrowers Borrowers, items Items, notifier Notifier, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("issuedesk/reminder")
	return &Dispatcher{
		ledger:       ledger,
		borrowers:    borrowers,
		items:        items,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger.With("component", "reminder"),
		tracer:       otel.Tracer("issuedesk/reminder"),
		sent:         telemetry.Counter(meter, "reminder.sent", "Reminders delivered"),
		failed:       telemetry.Counter(meter, "reminder.failed", "Reminders not delivered"),
		lastReminded: make(map[uuid.UUID]time.Time),
	}
}

type outcome struct {
	delivery Delivery
	reason   string
	ok       bool
}

// DispatchOverdueReminders sends one reminder per overdue record. Per-record
// failures are collected into the report and never abort the batch.
func (d *Dispatcher) DispatchOverdueReminders(ctx context.Context, now time.Time) Report {
	ctx, span := d.tracer.Start(ctx, "reminder.dispatch")
	defer span.End()

	overdue := d.ledger.ListOverdue(ctx, now)
	outcomes := make([]outcome, len(overdue))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, view := range overdue {
		i, view := i, view
		g.Go(func() error {
			outcomes[i] = d.remind(ctx, view, now)
			return nil
		})
	}
	g.Wait()

	report := Report{Sent: []Delivery{}, Failed: []Failure{}}
	for _, o := range outcomes {
		if o.ok {
			report.Sent = append(report.Sent, o.delivery)
			continue
		}
		report.Failed = append(report.Failed, Failure{Delivery: o.delivery, Reason: o.reason})
	}
	report.TotalSent, report.TotalFailed = len(report.Sent), len(report.Failed)

	span.SetAttributes(
		attribute.Int("reminder.sent", report.TotalSent),
		attribute.Int("reminder.failed", report.TotalFailed),
	)
	d.logger.Info("reminder batch finished", "overdue", len(overdue), "sent", report.TotalSent, "failed", report.TotalFailed)
	return report
}

func (d *Dispatcher) remind(ctx context.Context, view circulation.IssueView, now time.Time) outcome {
	o := outcome{delivery: Delivery{
		IssueID:    view.ID,
		BorrowerID: view.BorrowerID,
		ItemID:     view.ItemID,
		Item:       view.ItemID.String(),
	}}

	if item, err := d.items.GetItem(ctx, view.ItemID); err == nil {
		o.delivery.Item = item.Title
	}

	borrower, err := d.borrowers.GetBorrower(ctx, view.BorrowerID)
	if err != nil {
		o.reason = ReasonNoLookup
		if !errors.Is(err, membership.ErrBorrowerNotFound) {
			o.reason = err.Error()
		}
		return d.record(ctx, o)
	}
	o.delivery.Borrower = borrower.Name
	if !borrower.HasPhone() {
		o.reason = ReasonNoPhone
		return d.record(ctx, o)
	}

	message := fmt.Sprintf("Reminder: %q was due on %s and is %d day(s) overdue. Current fine: %s.",
		o.delivery.Item, view.DueDate.Format("2006-01-02"), view.OverdueDays, view.FinePreview.StringFixed(2))
	if err := d.send(ctx, borrower.Phone, message); err != nil {
		o.reason = reasonOf(err)
		return d.record(ctx, o)
	}

	o.ok = true
	d.mu.Lock()
	d.lastReminded[view.ID] = now
	d.mu.Unlock()
	return d.record(ctx, o)
}

// send retries once when an attempt runs out of time.
func (d *Dispatcher) send(ctx context.Context, phone, message string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		err = d.notifier.Send(attemptCtx, phone, message)
		cancel()
		if err == nil || !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func reasonOf(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return err.Error()
}

func (d *Dispatcher) record(ctx context.Context, o outcome) outcome {
	if o.ok {
		d.sent.Add(ctx, 1)
		return o
	}
	d.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", o.reason)))
	d.logger.Warn("reminder failed", "issue_id", o.delivery.IssueID, "borrower_id", o.delivery.BorrowerID, "reason", o.reason)
	return o
}

// LastReminded returns when a reminder for issueID was last delivered.
func (d *Dispatcher) LastReminded(issueID uuid.UUID) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.lastReminded[issueID]
	return t, ok
}
