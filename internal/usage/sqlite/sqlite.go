// Package sqlite stores usage records in a local SQLite database.
package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nulzo/prism-gateway/internal/usage"
)

//go:embed migrations/*.sql
var fs embed.FS

const insertRecord = `INSERT INTO usage_records (
	id, provider, model, streamed, finish_reason,
	prompt_tokens, completion_tokens, total_tokens, reasoning_tokens,
	latency_ms, ttft_ms, error_kind, provider_status, created_at
) VALUES (
	:id, :provider, :model, :streamed, :finish_reason,
	:prompt_tokens, :completion_tokens, :total_tokens, :reasoning_tokens,
	:latency_ms, :ttft_ms, :error_kind, :provider_status, :created_at
)`

type Sink struct {
	db *sqlx.DB
}

// Open connects to dsn and applies pending migrations.
func Open(dsn string) (*Sink, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Sink{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Write inserts the batch in one transaction.
func (s *Sink) Write(ctx context.Context, batch []*usage.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range batch {
		if _, err := tx.NamedExecContext(ctx, insertRecord, r); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert usage record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// recent returns the newest records for a provider, or for every provider
// when provider is empty.
func (s *Sink) recent(ctx context.Context, provider string, limit int) ([]usage.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []usage.Record
	var err error
	if provider == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM usage_records ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM usage_records WHERE provider = ? ORDER BY created_at DESC LIMIT ?`, provider, limit)
	}
	return out, err
}

func (s *Sink) Close() error {
	return s.db.Close()
}
