// cmd/catalog/main.go
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

	"issuedesk/internal/catalog"
	"issuedesk/internal/config"
)

type itemFlags struct {
	ISBN     string `validate:"omitempty,isbn"`
	Title    string `validate:"required"`
	Author   string
	Category string
	Year     int `validate:"omitempty,gte=1000,lte=9999"`
}

// Adds one lendable item to the catalog.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var f itemFlags
	flag.StringVar(&f.ISBN, "isbn", "", "ISBN-10 or ISBN-13")
	flag.StringVar(&f.Title, "title", "", "title")
	flag.StringVar(&f.Author, "author", "", "author")
	flag.StringVar(&f.Category, "category", "", "category")
	flag.IntVar(&f.Year, "year", 0, "publication year")
	flag.Parse()

	if err := validator.New().Struct(f); err != nil {
		logger.Error("invalid item", "err", err)
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
	store := catalog.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "err", err)
		os.Exit(1)
	}

	item := &catalog.Item{ISBN: f.ISBN, Title: f.Title, Author: f.Author, Category: f.Category, PublishedYear: f.Year}
	if err := store.AddItem(ctx, item); err != nil {
		logger.Error("failed to add item", "err", err)
		os.Exit(1)
	}
	json.NewEncoder(os.Stdout).Encode(item)
}
