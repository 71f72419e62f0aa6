// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"issuedesk/internal/access"
	"issuedesk/internal/catalog"
	"issuedesk/internal/circulation"
	"issuedesk/internal/fine"
	"issuedesk/internal/membership"
	"issuedesk/internal/reminder"
)

var errInjected = errors.New("injected fault")

// FaultyNotifier fails every send while tripped.
type FaultyNotifier struct {
	inner   reminder.Notifier
	tripped atomic.Bool
}

func (n *FaultyNotifier) Send(ctx context.Context, phone, message string) error {
	if n.tripped.Load() {
		return fmt.Errorf("sms gateway unreachable: %w", errInjected)
	}
	return n.inner.Send(ctx, phone, message)
}

// FaultyJournal fails every append while tripped.
type FaultyJournal struct {
	inner   circulation.Journal
	tripped atomic.Bool
}

func (j *FaultyJournal) Append(ctx context.Context, id uuid.UUID, version int, event any) error {
	if j.tripped.Load() {
		return fmt.Errorf("journal unavailable: %w", errInjected)
	}
	return j.inner.Append(ctx, id, version, event)
}

func (j *FaultyJournal) Replay(ctx context.Context, apply func(event any) error) error {
	return j.inner.Replay(ctx, apply)
}

// Target is an in-process ledger stack with fault switches.
type Target struct {
	Ledger     *circulation.Ledger
	Catalog    *catalog.MemoryStore
	Borrowers  *membership.MemoryStore
	Dispatcher *reminder.Dispatcher
	Notifier   *FaultyNotifier
	Journal    *FaultyJournal

	mu    sync.Mutex
	items []uuid.UUID
	now   time.Time
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, string, string) error { return nil }

func NewTarget(logger *slog.Logger) *Target {
	t := &Target{
		Catalog:   catalog.NewMemoryStore(),
		Borrowers: membership.NewMemoryStore(),
		Notifier:  &FaultyNotifier{inner: noopNotifier{}},
		Journal:   &FaultyJournal{inner: circulation.NewMemoryJournal()},
		now:       time.Now().UTC(),
	}
	t.Ledger = circulation.NewLedger(t.Catalog, t.Borrowers, t.Journal, circulation.Config{FineRate: fine.DefaultRate}, logger)
	t.Dispatcher = reminder.NewDispatcher(t.Ledger, t.Borrowers, t.Catalog, t.Notifier, reminder.Config{Timeout: time.Second}, logger)
	return t
}

func (t *Target) addItem(ctx context.Context, title string) (uuid.UUID, error) {
	item := &catalog.Item{Title: title}
	if err := t.Catalog.AddItem(ctx, item); err != nil {
		return uuid.Nil, err
	}
	t.mu.Lock()
	t.items = append(t.items, item.ID)
	t.mu.Unlock()
	return item.ID, nil
}

func (t *Target) addBorrower(phone string) uuid.UUID {
	b := membership.Borrower{ID: uuid.New(), Name: "chaos-" + phone, Role: access.RoleMember, Phone: phone}
	t.Borrowers.Put(b)
	return b.ID
}

// Drift counts items whose ledger availability, catalog projection and
// issued-record count disagree, or that hold more than one issued record.
func (t *Target) Drift(ctx context.Context) (float64, error) {
	t.mu.Lock()
	items := append([]uuid.UUID(nil), t.items...)
	now := t.now
	t.mu.Unlock()

	drift := 0
	for _, id := range items {
		issued := t.Ledger.ListIssues(ctx, circulation.Filter{ItemID: id, Status: circulation.StatusIssued}, now)
		available, err := t.Ledger.Available(ctx, id)
		if err != nil {
			return 0, err
		}
		item, err := t.Catalog.GetItem(ctx, id)
		if err != nil {
			return 0, err
		}
		if len(issued) > 1 || available != (len(issued) == 0) || item.Available != available {
			drift++
		}
	}
	return float64(drift), nil
}

// ConcurrentIssueRace fires concurrent Issue calls at one item.
func ConcurrentIssueRace(t *Target, callers int) Experiment {
	var winners atomic.Int64

	return Experiment{
		Name:       "concurrent-issue-race",
		Hypothesis: "Exactly one of many concurrent issues of the same item succeeds and availability never drifts",
		SteadyState: []Metric{
			{Name: "availability_drift", Query: t.Drift, Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "race_winners", Query: func(context.Context) (float64, error) {
				return float64(winners.Load()), nil
			}, Threshold: Threshold{Operator: "<=", Value: 1}},
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation-ledger",
			Execute: func(ctx context.Context) error {
				id, err := t.addItem(ctx, "race target")
				if err != nil {
					return err
				}
				borrowers := make([]uuid.UUID, callers)
				for i := range borrowers {
					borrowers[i] = t.addBorrower(fmt.Sprintf("+1555%07d", i))
				}
				due := t.now.Add(7 * fine.Day)

				var wg sync.WaitGroup
				var unexpected atomic.Int64
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func(b uuid.UUID) {
						defer wg.Done()
						_, err := t.Ledger.Issue(ctx, id, b, due, t.now)
						switch {
						case err == nil:
							winners.Add(1)
						case !errors.Is(err, circulation.ErrConflict):
							unexpected.Add(1)
						}
					}(borrowers[i])
				}
				wg.Wait()
				if n := unexpected.Load(); n > 0 {
					return fmt.Errorf("%d issue calls failed with something other than conflict", n)
				}
				return nil
			},
		}},
		Validation: []Assertion{
			{Metric: "availability_drift", Condition: func(v float64) bool { return v == 0 }, Message: "availability must match the issued records"},
			{Metric: "race_winners", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one issue must win the race"},
		},
		Duration: 50 * time.Millisecond,
	}
}

// NotifierOutage takes the SMS gateway down during a reminder batch.
func NotifierOutage(t *Target, overdue int) Experiment {
	var last atomic.Pointer[reminder.Report]
	var expected atomic.Int64

	accounted := func(context.Context) (float64, error) {
		r := last.Load()
		if r == nil {
			return 0, nil
		}
		return float64(expected.Load() - int64(r.TotalSent+r.TotalFailed)), nil
	}

	return Experiment{
		Name:       "notifier-outage",
		Hypothesis: "A notifier outage fails each reminder individually and every overdue record is still accounted for",
		SteadyState: []Metric{
			{Name: "unaccounted_reminders", Query: accounted, Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "availability_drift", Query: t.Drift, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{{
			Type:   "kill-dependency",
			Target: "sms-gateway",
			Execute: func(ctx context.Context) error {
				for i := 0; i < overdue; i++ {
					id, err := t.addItem(ctx, fmt.Sprintf("overdue %d", i))
					if err != nil {
						return err
					}
					due := t.now.Add(-time.Duration(i+1) * fine.Day)
					if _, err := t.Ledger.Issue(ctx, id, t.addBorrower(fmt.Sprintf("+1666%07d", i)), due, due.Add(-fine.Day)); err != nil {
						return err
					}
				}
				t.Notifier.tripped.Store(true)
				report := t.Dispatcher.DispatchOverdueReminders(ctx, t.now)
				expected.Store(int64(len(t.Ledger.ListOverdue(ctx, t.now))))
				last.Store(&report)
				if report.TotalSent != 0 {
					return fmt.Errorf("%d reminders sent through a dead gateway", report.TotalSent)
				}
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "restore-dependency",
			Target: "sms-gateway",
			Execute: func(context.Context) error {
				t.Notifier.tripped.Store(false)
				return nil
			},
		}},
		Validation: []Assertion{
			{Metric: "unaccounted_reminders", Condition: func(v float64) bool { return v == 0 }, Message: "every overdue record must appear in the report"},
			{Metric: "availability_drift", Condition: func(v float64) bool { return v == 0 }, Message: "reminders must not change availability"},
		},
		Duration: 50 * time.Millisecond,
	}
}

// JournalOutage makes every journal append fail while issues and returns
// keep arriving.
func JournalOutage(t *Target, attempts int) Experiment {
	var leaked atomic.Int64

	return Experiment{
		Name:       "journal-outage",
		Hypothesis: "When the journal rejects writes, issue and return change nothing",
		SteadyState: []Metric{
			{Name: "availability_drift", Query: t.Drift, Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "leaked_writes", Query: func(context.Context) (float64, error) {
				return float64(leaked.Load()), nil
			}, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{{
			Type:   "fail-writes",
			Target: "journal",
			Execute: func(ctx context.Context) error {
				borrower := t.addBorrower("+17770000000")
				held, err := t.addItem(ctx, "held before outage")
				if err != nil {
					return err
				}
				rec, err := t.Ledger.Issue(ctx, held, borrower, t.now.Add(fine.Day), t.now)
				if err != nil {
					return err
				}

				t.Journal.tripped.Store(true)
				for i := 0; i < attempts; i++ {
					id, err := t.addItem(ctx, fmt.Sprintf("outage %d", i))
					if err != nil {
						return err
					}
					if _, err := t.Ledger.Issue(ctx, id, borrower, t.now.Add(fine.Day), t.now); err == nil {
						leaked.Add(1)
					}
				}
				if _, err := t.Ledger.Return(ctx, rec.ID, t.now); err == nil {
					leaked.Add(1)
				}
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "restore-writes",
			Target: "journal",
			Execute: func(context.Context) error {
				t.Journal.tripped.Store(false)
				return nil
			},
		}},
		Validation: []Assertion{
			{Metric: "availability_drift", Condition: func(v float64) bool { return v == 0 }, Message: "failed writes must not move availability"},
			{Metric: "leaked_writes", Condition: func(v float64) bool { return v == 0 }, Message: "no write may succeed while the journal is down"},
		},
		Duration: 50 * time.Millisecond,
	}
}

// RegisterDefaults registers the standard experiment set against t.
func (e *Engine) RegisterDefaults(t *Target) {
	e.Register(ConcurrentIssueRace(t, 100))
	e.Register(NotifierOutage(t, 5))
	e.Register(JournalOutage(t, 10))
}
