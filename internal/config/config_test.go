package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "DATABASE_URL", "APP_ENV", "FINE_RATE", "MAX_LOAN_DAYS", "JWT_SECRET", "TOKEN_TTL",
	"SMS_GATEWAY_URL", "SMS_API_KEY", "SMS_RATE_PER_SECOND", "REMINDER_CONCURRENCY",
	"REMINDER_TIMEOUT", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOGIN_PATH", "LANDING_PATH",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.True(t, cfg.FineRate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 30, cfg.MaxLoanDays)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 8, cfg.ReminderWorkers)
	assert.Equal(t, 10*time.Second, cfg.ReminderTimeout)
	assert.Equal(t, "/login", cfg.LoginPath)
	assert.Equal(t, "/dashboard", cfg.LandingPath)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("FINE_RATE=2.50\nMAX_LOAN_DAYS=14\nPORT=9000\n"), 0o600))
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port, "environment wins over file")
	assert.Equal(t, "2.5", cfg.FineRate.String())
	assert.Equal(t, 14, cfg.MaxLoanDays)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"FINE_RATE":            "ten",
		"MAX_LOAN_DAYS":        "0",
		"TOKEN_TTL":            "forever",
		"SMS_RATE_PER_SECOND":  "fast",
		"REMINDER_CONCURRENCY": "x",
		"REMINDER_TIMEOUT":     "10",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorContains(t, err, key)
		})
	}

	t.Run("negative fine rate", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FINE_RATE", "-1")
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		assert.ErrorContains(t, err, "negative")
	})
}
