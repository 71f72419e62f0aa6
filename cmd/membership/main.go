// cmd/membership/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"issuedesk/internal/access"
	"issuedesk/internal/config"
	"issuedesk/internal/membership"
)

type enrollment struct {
	Name       string `validate:"required"`
	Email      string `validate:"required,email"`
	Password   string `validate:"required,min=8"`
	Role       string `validate:"oneof=member admin super-admin"`
	Phone      string `validate:"omitempty,e164"`
	RollNumber string
	Department string
}

// Registers one borrower with a password in the database.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var e enrollment
	flag.StringVar(&e.Name, "name", "", "full name")
	flag.StringVar(&e.Email, "email", "", "login email")
	flag.StringVar(&e.Password, "password", "", "initial password")
	flag.StringVar(&e.Role, "role", string(access.RoleMember), "member, admin or super-admin")
	flag.StringVar(&e.Phone, "phone", "", "E.164 phone number for reminders")
	flag.StringVar(&e.RollNumber, "roll", "", "roll number")
	flag.StringVar(&e.Department, "department", "", "department")
	flag.Parse()

	if err := validator.New().Struct(e); err != nil {
		logger.Error("invalid borrower", "err", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	store := membership.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "err", err)
		os.Exit(1)
	}

	b := &membership.Borrower{
		Name:       e.Name,
		Email:      e.Email,
		Role:       access.ParseRole(e.Role),
		Phone:      e.Phone,
		RollNumber: e.RollNumber,
		Department: e.Department,
	}
	if err := store.Register(ctx, b, e.Password); err != nil {
		logger.Error("failed to register borrower", "err", err)
		os.Exit(1)
	}
	json.NewEncoder(os.Stdout).Encode(b)
}
