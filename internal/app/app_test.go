package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuedesk/internal/config"
)

func TestNewInMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), config.Config{
		FineRate:        decimal.NewFromInt(1),
		MaxLoanDays:     30,
		JWTSecret:       "secret",
		TokenTTL:        time.Hour,
		ReminderWorkers: 2,
		ReminderTimeout: time.Second,
	}, logger)
	require.NoError(t, err)
	defer a.Close()

	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	a.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/issues", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	report := a.Dispatcher.DispatchOverdueReminders(context.Background(), time.Now())
	assert.Zero(t, report.TotalSent+report.TotalFailed)
}
