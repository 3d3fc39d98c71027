// Package store provides the chat history persistence gateway for TutorPipe.
//
// This file implements a PostgreSQL-backed history store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TutorPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists chat history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Append inserts one history record.
func (s *PostgresStore) Append(ctx context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (user_id, feature, sender, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		r.UserID, string(r.Feature), encodeSender(r.Sender), r.Content, normalizeTime(r.CreatedAt))
	if err != nil {
		slog.Error("PostgresStore.Append failed", "error", err, "user_id", r.UserID, "feature", r.Feature)
		return persistenceError("insert chat history", err)
	}
	return nil
}

// ListOrdered returns the records for (userID, feature) oldest first.
func (s *PostgresStore) ListOrdered(ctx context.Context, userID string, feature models.Feature) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, feature, sender, content, created_at FROM chat_history
		 WHERE user_id = $1 AND feature = $2 ORDER BY created_at ASC, id ASC`,
		userID, string(feature))
	if err != nil {
		slog.Error("PostgresStore.ListOrdered query failed", "error", err, "user_id", userID)
		return nil, persistenceError("query chat history", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, persistenceError("scan chat history", err)
	}
	return records, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
