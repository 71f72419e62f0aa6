// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string
	DatabaseURL string
	Env         string

	FineRate    decimal.Decimal
	MaxLoanDays int

	JWTSecret string
	TokenTTL  time.Duration

	SMSGatewayURL    string
	SMSAPIKey        string
	SMSRatePerSecond float64
	ReminderWorkers  int
	ReminderTimeout  time.Duration
	OTLPEndpoint     string
	LoginPath        string
	LandingPath      string
}

// Load reads .env style files (missing files are skipped) and then the
// process environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Config{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Env:           getenv("APP_ENV", "dev"),
		JWTSecret:     getenv("JWT_SECRET", "local_dev_secret"),
		SMSGatewayURL: os.Getenv("SMS_GATEWAY_URL"),
		SMSAPIKey:     os.Getenv("SMS_API_KEY"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LoginPath:     getenv("LOGIN_PATH", "/login"),
		LandingPath:   getenv("LANDING_PATH", "/dashboard"),
	}

	var err error
	if cfg.FineRate, err = decimal.NewFromString(getenv("FINE_RATE", "1")); err != nil {
		return Config{}, fmt.Errorf("invalid FINE_RATE: %w", err)
	}
	if cfg.FineRate.IsNegative() {
		return Config{}, fmt.Errorf("invalid FINE_RATE: %s is negative", cfg.FineRate)
	}
	if cfg.MaxLoanDays, err = intEnv("MAX_LOAN_DAYS", 30); err != nil {
		return Config{}, err
	}
	if cfg.MaxLoanDays < 1 {
		return Config{}, fmt.Errorf("invalid MAX_LOAN_DAYS: %d", cfg.MaxLoanDays)
	}
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", 12*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SMSRatePerSecond, err = floatEnv("SMS_RATE_PER_SECOND", 5); err != nil {
		return Config{}, err
	}
	if cfg.ReminderWorkers, err = intEnv("REMINDER_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if cfg.ReminderTimeout, err = durationEnv("REMINDER_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.Env != "dev" && cfg.JWTSecret == "local_dev_secret" {
		slog.Warn("using development JWT secret", "env", cfg.Env)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return f, nil
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return d, nil
}
