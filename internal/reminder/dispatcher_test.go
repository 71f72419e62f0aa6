package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"issuedesk/internal/access"
	"issuedesk/internal/catalog"
	"issuedesk/internal/circulation"
	"issuedesk/internal/fine"
	"issuedesk/internal/membership"
	"issuedesk/internal/notify"
)

var t0 = time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, phone, message string) error {
	return m.Called(ctx, phone, message).Error(0)
}

type fixture struct {
	ledger    *circulation.Ledger
	catalog   *catalog.MemoryStore
	borrowers *membership.MemoryStore
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{catalog: catalog.NewMemoryStore(), borrowers: membership.NewMemoryStore()}
	f.ledger = circulation.NewLedger(f.catalog, f.borrowers, circulation.NewMemoryJournal(),
		circulation.Config{FineRate: fine.DefaultRate}, discardLogger())
	return f
}

// overdueLoan issues a fresh item to a new borrower, due daysLate days before t0.
func (f *fixture) overdueLoan(t *testing.T, name, phone string, daysLate int) (*circulation.IssueRecord, membership.Borrower) {
	t.Helper()
	ctx := context.Background()
	item := &catalog.Item{Title: name + "'s book"}
	require.NoError(t, f.catalog.AddItem(ctx, item))
	b := membership.Borrower{ID: uuid.New(), Name: name, Role: access.RoleMember, Phone: phone}
	f.borrowers.Put(b)

	due := t0.Add(-time.Duration(daysLate) * fine.Day)
	rec, err := f.ledger.Issue(ctx, item.ID, b.ID, due, due.Add(-fine.Day))
	require.NoError(t, err)
	return rec, b
}

func (f *fixture) dispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	return NewDispatcher(f.ledger, f.borrowers, f.catalog, n, Config{Concurrency: 4, Timeout: timeout}, discardLogger())
}

func TestDispatchSkipsBorrowersWithoutPhone(t *testing.T) {
	f := newFixture(t)
	r1, _ := f.overdueLoan(t, "Asha", "+15550101", 3)
	r2, _ := f.overdueLoan(t, "Ben", "", 2)
	r3, _ := f.overdueLoan(t, "Chen", "+15550103", 1)

	n := new(mockNotifier)
	n.On("Send", mock.Anything, "+15550101", mock.AnythingOfType("string")).Return(nil).Once()
	n.On("Send", mock.Anything, "+15550103", mock.AnythingOfType("string")).Return(nil).Once()

	d := f.dispatcher(n, time.Second)
	report := d.DispatchOverdueReminders(context.Background(), t0)

	assert.Equal(t, 2, report.TotalSent)
	assert.Equal(t, 1, report.TotalFailed)
	require.Len(t, report.Sent, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, r1.ID, report.Sent[0].IssueID)
	assert.Equal(t, r3.ID, report.Sent[1].IssueID)
	assert.Equal(t, r2.ID, report.Failed[0].IssueID)
	assert.Equal(t, ReasonNoPhone, report.Failed[0].Reason)
	assert.Equal(t, "Ben", report.Failed[0].Borrower)
	n.AssertExpectations(t)
	n.AssertNotCalled(t, "Send", mock.Anything, "", mock.Anything)

	_, ok := d.LastReminded(r1.ID)
	assert.True(t, ok)
	_, ok = d.LastReminded(r2.ID)
	assert.False(t, ok)
}

func TestDispatchIsolatesTransportFailures(t *testing.T) {
	f := newFixture(t)
	f.overdueLoan(t, "Asha", "+15550101", 2)
	f.overdueLoan(t, "Ben", "+15550102", 1)

	n := new(mockNotifier)
	n.On("Send", mock.Anything, "+15550101", mock.Anything).Return(errors.New("gateway rejected number"))
	n.On("Send", mock.Anything, "+15550102", mock.Anything).Return(nil)

	report := f.dispatcher(n, time.Second).DispatchOverdueReminders(context.Background(), t0)
	assert.Equal(t, 1, report.TotalSent)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "gateway rejected number", report.Failed[0].Reason)
	n.AssertNumberOfCalls(t, "Send", 2)
}

func TestDispatchRetriesTimeoutOnce(t *testing.T) {
	f := newFixture(t)
	f.overdueLoan(t, "Asha", "+15550101", 1)
	f.overdueLoan(t, "Ben", "+15550102", 2)

	n := new(mockNotifier)
	n.On("Send", mock.Anything, "+15550101", mock.Anything).Return(context.DeadlineExceeded)
	n.On("Send", mock.Anything, "+15550102", mock.Anything).Return(context.DeadlineExceeded).Once()
	n.On("Send", mock.Anything, "+15550102", mock.Anything).Return(nil).Once()

	report := f.dispatcher(n, time.Second).DispatchOverdueReminders(context.Background(), t0)
	assert.Equal(t, 1, report.TotalSent)
	assert.Equal(t, "Ben", report.Sent[0].Borrower)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, ReasonTimeout, report.Failed[0].Reason)
	n.AssertNumberOfCalls(t, "Send", 4)
}

type slowNotifier struct{}

func (slowNotifier) Send(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchBoundsSlowNotifier(t *testing.T) {
	f := newFixture(t)
	f.overdueLoan(t, "Asha", "+15550101", 1)

	start := time.Now()
	report := f.dispatcher(slowNotifier{}, 20*time.Millisecond).DispatchOverdueReminders(context.Background(), t0)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, ReasonTimeout, report.Failed[0].Reason)
}

func TestDispatchMessageCarriesFine(t *testing.T) {
	f := newFixture(t)
	f.overdueLoan(t, "Asha", "+15550101", 3)

	n := new(mockNotifier)
	n.On("Send", mock.Anything, "+15550101", mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "Asha's book") &&
			strings.Contains(msg, "3 day(s) overdue") &&
			strings.Contains(msg, "3.00")
	})).Return(nil)

	report := f.dispatcher(n, time.Second).DispatchOverdueReminders(context.Background(), t0)
	assert.Equal(t, 1, report.TotalSent)
	n.AssertExpectations(t)
}

func TestDispatchWithNothingOverdue(t *testing.T) {
	f := newFixture(t)
	report := f.dispatcher(new(mockNotifier), time.Second).DispatchOverdueReminders(context.Background(), t0)
	assert.Zero(t, report.TotalSent)
	assert.Zero(t, report.TotalFailed)
	assert.NotNil(t, report.Sent)
	assert.NotNil(t, report.Failed)
}

func TestDispatchWithoutLogger(t *testing.T) {
	f := newFixture(t)
	f.overdueLoan(t, "Asha", "+15550101", 2)
	n := new(mockNotifier)
	n.On("Send", mock.Anything, "+15550101", mock.Anything).Return(nil).Once()

	d := NewDispatcher(f.ledger, f.borrowers, f.catalog, n, Config{}, nil)
	report := d.DispatchOverdueReminders(context.Background(), t0)
	assert.Equal(t, 1, report.TotalSent)
	n.AssertExpectations(t)
}

func TestDispatchThrottledGatewayReportsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.overdueLoan(t, "Asha", "+15550101", 3)
	f.overdueLoan(t, "Ben", "+15550102", 2)
	gateway := notify.NewSMSGateway(notify.SMSConfig{URL: srv.URL, RatePerSecond: 0.01}, discardLogger())

	report := f.dispatcher(gateway, 50*time.Millisecond).DispatchOverdueReminders(context.Background(), t0)
	assert.Equal(t, 1, report.TotalSent)
	require.Equal(t, 1, report.TotalFailed)
	assert.Equal(t, ReasonTimeout, report.Failed[0].Reason)
}

func TestHandleDispatch(t *testing.T) {
	f := newFixture(t)
	f.overdueLoan(t, "Ben", "", 2)

	h := NewHandler(f.dispatcher(new(mockNotifier), time.Second))
	h.now = func() time.Time { return t0 }

	rr := httptest.NewRecorder()
	h.HandleDispatch(rr, httptest.NewRequest(http.MethodPost, "/issues/reminders", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	assert.Equal(t, 1, report.TotalFailed)
	assert.Equal(t, ReasonNoPhone, report.Failed[0].Reason)
}
