package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"issuedesk/internal/access"
	"issuedesk/internal/membership"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockIdentity struct {
	mock.Mock
}

func (m *mockIdentity) GetBorrower(ctx context.Context, id uuid.UUID) (*membership.Borrower, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*membership.Borrower)
	return b, args.Error(1)
}

func registered(t *testing.T, role access.Role) (*membership.MemoryStore, *membership.Borrower) {
	t.Helper()
	store := membership.NewMemoryStore()
	b := &membership.Borrower{Name: "Asha", Email: "Asha@Example.org", Role: role}
	require.NoError(t, store.Register(context.Background(), b, "correct horse"))
	return store, b
}

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	id := uuid.New()

	token, expires, err := issuer.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, got, err := issuer.Parse("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.NotEmpty(t, claims.ID)

	_, _, err = NewIssuer("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = issuer.Parse("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	token, _, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, _, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: uuid.NewString(),
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = NewIssuer("secret", time.Minute).Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveReadsRoleOnEveryCall(t *testing.T) {
	store, b := registered(t, access.RoleMember)
	issuer := NewIssuer("secret", time.Hour)
	resolver := NewResolver(issuer, store, NewRevocations(), discardLogger())
	token, _, err := issuer.Issue(b.ID)
	require.NoError(t, err)

	s := resolver.Resolve(context.Background(), "Bearer "+token)
	assert.Equal(t, access.SessionAuthenticated, s.State)
	assert.Equal(t, access.RoleMember, s.Role)

	promoted := *b
	promoted.Role = access.RoleAdmin
	store.Put(promoted)

	s = resolver.Resolve(context.Background(), "Bearer "+token)
	assert.Equal(t, access.RoleAdmin, s.Role)
}

func TestResolveUnknownRoleIsAnonymous(t *testing.T) {
	for _, role := range []access.Role{"librarian", access.RoleAnonymous} {
		store, b := registered(t, role)
		issuer := NewIssuer("secret", time.Hour)
		resolver := NewResolver(issuer, store, NewRevocations(), discardLogger())
		token, _, err := issuer.Issue(b.ID)
		require.NoError(t, err)

		s := resolver.Resolve(context.Background(), "Bearer "+token)
		assert.Equal(t, access.SessionAnonymous, s.State, "role %q", role)

		d := access.NewGate("", "").Decide(s)
		assert.Equal(t, access.OutcomeRedirect, d.Outcome)
		assert.Equal(t, access.DefaultLoginPath, d.Target)
	}
}

func TestResolveStates(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	id := uuid.New()
	token, _, err := issuer.Issue(id)
	require.NoError(t, err)

	identity := new(mockIdentity)
	identity.On("GetBorrower", mock.Anything, id).Return(nil, errors.New("connection refused")).Once()
	identity.On("GetBorrower", mock.Anything, id).Return(nil, membership.ErrBorrowerNotFound).Once()

	resolver := NewResolver(issuer, identity, NewRevocations(), discardLogger())
	ctx := context.Background()

	assert.Equal(t, access.SessionAnonymous, resolver.Resolve(ctx, "").State)
	assert.Equal(t, access.SessionAnonymous, resolver.Resolve(ctx, "Bearer garbage").State)
	assert.Equal(t, access.SessionPending, resolver.Resolve(ctx, "Bearer "+token).State)
	assert.Equal(t, access.SessionAnonymous, resolver.Resolve(ctx, "Bearer "+token).State)
	identity.AssertExpectations(t)
}

func TestLoginAndLogout(t *testing.T) {
	store, b := registered(t, access.RoleAdmin)
	issuer := NewIssuer("secret", time.Hour)
	revoked := NewRevocations()
	h := NewHandler(store, issuer, revoked, discardLogger())
	resolver := NewResolver(issuer, store, revoked, discardLogger())

	body, _ := json.Marshal(map[string]string{"email": "asha@example.org", "password": "correct horse"})
	rr := httptest.NewRecorder()
	h.HandleLogin(rr, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp loginResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, b.ID, resp.Borrower.ID)

	session := resolver.Resolve(context.Background(), "Bearer "+resp.Token)
	require.Equal(t, access.SessionAuthenticated, session.State)
	assert.Equal(t, access.RoleAdmin, session.Role)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(access.WithSession(req.Context(), session))
	rr = httptest.NewRecorder()
	h.HandleLogout(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	assert.Equal(t, access.SessionAnonymous, resolver.Resolve(context.Background(), "Bearer "+resp.Token).State)
}

func TestLoginFailures(t *testing.T) {
	store, _ := registered(t, access.RoleMember)
	h := NewHandler(store, NewIssuer("secret", time.Hour), NewRevocations(), discardLogger())

	cases := map[string]struct {
		body string
		want int
	}{
		"bad json":       {`{`, http.StatusBadRequest},
		"missing email":  {`{"password":"x"}`, http.StatusBadRequest},
		"wrong password": {`{"email":"asha@example.org","password":"nope"}`, http.StatusUnauthorized},
		"unknown email":  {`{"email":"who@example.org","password":"x"}`, http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.HandleLogin(rr, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(tc.body)))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
