package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuedesk/internal/access"
	"issuedesk/internal/auth"
	"issuedesk/internal/catalog"
	"issuedesk/internal/circulation"
	"issuedesk/internal/fine"
	"issuedesk/internal/membership"
	"issuedesk/internal/notify"
	"issuedesk/internal/reminder"
)

type stack struct {
	router    http.Handler
	issuer    *auth.Issuer
	catalog   *catalog.MemoryStore
	borrowers *membership.MemoryStore
}

func newStack(t *testing.T, sessions SessionResolver) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &stack{
		issuer:    auth.NewIssuer("secret", time.Hour),
		catalog:   catalog.NewMemoryStore(),
		borrowers: membership.NewMemoryStore(),
	}
	revoked := auth.NewRevocations()
	if sessions == nil {
		sessions = auth.NewResolver(s.issuer, s.borrowers, revoked, logger)
	}
	ledger := circulation.NewLedger(s.catalog, s.borrowers, circulation.NewMemoryJournal(),
		circulation.Config{FineRate: fine.DefaultRate}, logger)
	gate := access.NewGate("", "")
	dispatcher := reminder.NewDispatcher(ledger, s.borrowers, s.catalog, notify.NewLogNotifier(logger), reminder.Config{}, logger)

	s.router = NewRouter(Deps{
		Circulation: circulation.NewHandler(ledger, gate, logger),
		Reminders:   reminder.NewHandler(dispatcher),
		Auth:        auth.NewHandler(s.borrowers, s.issuer, revoked, logger),
		Sessions:    sessions,
		Gate:        gate,
		Logger:      logger,
	})
	return s
}

func (s *stack) token(t *testing.T, role access.Role) (string, uuid.UUID) {
	t.Helper()
	b := membership.Borrower{ID: uuid.New(), Name: string(role), Role: role, Phone: "+15550100"}
	s.borrowers.Put(b)
	token, _, err := s.issuer.Issue(b.ID)
	require.NoError(t, err)
	return "Bearer " + token, b.ID
}

func (s *stack) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func redirectOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body["redirect"]
}

func TestGateOnStaffRoutes(t *testing.T) {
	s := newStack(t, nil)
	member, _ := s.token(t, access.RoleMember)
	admin, _ := s.token(t, access.RoleAdmin)

	rr := s.do(t, http.MethodGet, "/api/v1/issues", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, access.DefaultLoginPath, redirectOf(t, rr))

	rr = s.do(t, http.MethodGet, "/api/v1/issues", member, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, access.DefaultLandingPath, redirectOf(t, rr))

	rr = s.do(t, http.MethodGet, "/api/v1/issues", admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

type pendingResolver struct{}

func (pendingResolver) Resolve(context.Context, string) access.Session { return access.Pending() }

func TestPendingSessionWaits(t *testing.T) {
	s := newStack(t, pendingResolver{})
	rr := s.do(t, http.MethodGet, "/api/v1/issues/overdue", "Bearer x", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, retryAfterSeconds, rr.Header().Get("Retry-After"))
}

func TestRoleChangeAppliesOnNextRequest(t *testing.T) {
	s := newStack(t, nil)
	bearer, id := s.token(t, access.RoleAdmin)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/issues/overdue", bearer, nil).Code)

	b, err := s.borrowers.GetBorrower(context.Background(), id)
	require.NoError(t, err)
	b.Role = access.RoleMember
	s.borrowers.Put(*b)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/issues/overdue", bearer, nil).Code)
}

func TestUnknownRoleIsSentToLogin(t *testing.T) {
	s := newStack(t, nil)
	bearer, id := s.token(t, access.Role("librarian"))

	for _, path := range []string{
		"/api/v1/items/" + uuid.NewString() + "/availability",
		"/api/v1/issues/borrower/" + id.String(),
	} {
		rr := s.do(t, http.MethodGet, path, bearer, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		assert.Equal(t, access.DefaultLoginPath, redirectOf(t, rr))
	}
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/v1/auth/logout", bearer, nil).Code)
}

func TestIssueFlowThroughRouter(t *testing.T) {
	s := newStack(t, nil)
	admin, _ := s.token(t, access.RoleAdmin)
	member, memberID := s.token(t, access.RoleMember)

	item := &catalog.Item{Title: "Dune"}
	require.NoError(t, s.catalog.AddItem(context.Background(), item))

	rr := s.do(t, http.MethodPost, "/api/v1/issues", member, map[string]any{
		"item_id": item.ID, "borrower_id": memberID, "due_date": time.Now().Add(7 * fine.Day),
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/issues", admin, map[string]any{
		"item_id": item.ID, "borrower_id": memberID, "due_date": time.Now().Add(7 * fine.Day),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/api/v1/items/"+item.ID.String()+"/availability", member, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"available":false`)

	rr = s.do(t, http.MethodGet, "/api/v1/issues/borrower/"+memberID.String(), member, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/issues/reminders", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total_sent":0`)
}

func TestLoginLogoutThroughRouter(t *testing.T) {
	s := newStack(t, nil)
	b := &membership.Borrower{Name: "Dana", Email: "dana@example.org", Role: access.RoleAdmin}
	require.NoError(t, s.borrowers.Register(context.Background(), b, "s3cret-pass"))

	rr := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "dana@example.org", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&login))
	bearer := "Bearer " + login.Token

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/issues", bearer, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/api/v1/auth/logout", bearer, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/issues", bearer, nil).Code)
}

func TestHealthz(t *testing.T) {
	s := newStack(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
}
