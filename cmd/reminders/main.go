// cmd/reminders/main.go
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"issuedesk/internal/app"
	"issuedesk/internal/config"
	"issuedesk/internal/telemetry"
)

// One reminder batch, for cron. Exits 2 when any reminder failed.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "issuedesk-reminders", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "err", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "err", err)
		os.Exit(1)
	}

	report := a.Dispatcher.DispatchOverdueReminders(ctx, time.Now().UTC())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("failed to write report", "err", err)
	}

	a.Close()
	shutdownTracing(context.Background())
	if report.TotalFailed > 0 {
		os.Exit(2)
	}
}
