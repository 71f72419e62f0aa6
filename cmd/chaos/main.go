// cmd/chaos/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"issuedesk/internal/chaos"
	"issuedesk/internal/config"
	"issuedesk/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "issuedesk-chaos", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "err", err)
		os.Exit(1)
	}
	defer shutdownTracing(ctx)

	engine := chaos.NewEngine(logger, 100*time.Millisecond)
	engine.RegisterDefaults(chaos.NewTarget(logger))

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "circulation game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	})
	if err != nil {
		logger.Error("game day failed", "err", err)
		os.Exit(1)
	}
	if !held {
		logger.Warn("at least one hypothesis was violated")
		os.Exit(2)
	}
}
