// internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"issuedesk/internal/access"
	"issuedesk/internal/auth"
	"issuedesk/internal/catalog"
	"issuedesk/internal/circulation"
	"issuedesk/internal/config"
	"issuedesk/internal/eventstore"
	"issuedesk/internal/httpapi"
	"issuedesk/internal/membership"
	"issuedesk/internal/notify"
	"issuedesk/internal/reminder"
)

type identityStore interface {
	circulation.Identity
	membership.CredentialSource
}

// App is the wired service: stores, ledger, dispatcher and HTTP router.
type App struct {
	Ledger     *circulation.Ledger
	Dispatcher *reminder.Dispatcher
	Router     http.Handler

	db *sql.DB
}

// New wires the service from cfg. With no DATABASE_URL everything is kept in
// memory and lost on exit.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	var (
		items     circulation.Catalog
		borrowers identityStore
		journal   circulation.Journal
		a         = &App{}
	)

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		items = catalog.NewMemoryStore()
		borrowers = membership.NewMemoryStore()
		journal = circulation.NewMemoryJournal()
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		a.db = db

		dbx := sqlx.NewDb(db, "postgres")
		catalogStore := catalog.NewPostgresStore(dbx)
		membershipStore := membership.NewPostgresStore(dbx)
		es := eventstore.NewEventStore(db)
		for _, s := range []interface{ EnsureSchema(context.Context) error }{catalogStore, membershipStore, es} {
			if err := s.EnsureSchema(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		items, borrowers, journal = catalogStore, membershipStore, circulation.NewEventJournal(es)
	}

	a.Ledger = circulation.NewLedger(items, borrowers, journal, circulation.Config{
		FineRate:    cfg.FineRate,
		MaxLoanDays: cfg.MaxLoanDays,
	}, logger)
	if err := a.Ledger.Restore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var notifier reminder.Notifier
	if cfg.SMSGatewayURL == "" {
		logger.Warn("SMS_GATEWAY_URL not set, reminders are only logged")
		notifier = notify.NewLogNotifier(logger)
	} else {
		notifier = notify.NewSMSGateway(notify.SMSConfig{
			URL:           cfg.SMSGatewayURL,
			APIKey:        cfg.SMSAPIKey,
			RatePerSecond: cfg.SMSRatePerSecond,
		}, logger)
	}
	a.Dispatcher = reminder.NewDispatcher(a.Ledger, borrowers, items, notifier, reminder.Config{
		Concurrency: cfg.ReminderWorkers,
		Timeout:     cfg.ReminderTimeout,
	}, logger)

	gate := access.NewGate(cfg.LoginPath, cfg.LandingPath)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	revoked := auth.NewRevocations()
	a.Router = httpapi.NewRouter(httpapi.Deps{
		Circulation: circulation.NewHandler(a.Ledger, gate, logger),
		Reminders:   reminder.NewHandler(a.Dispatcher),
		Auth:        auth.NewHandler(borrowers, issuer, revoked, logger),
		Sessions:    auth.NewResolver(issuer, borrowers, revoked, logger),
		Gate:        gate,
		Logger:      logger,
	})
	return a, nil
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
