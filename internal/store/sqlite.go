// Package store provides the chat history persistence gateway for TutorPipe.
//
// This file implements an SQLite-backed history store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/TutorPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists chat history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Append inserts one history record.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (user_id, feature, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, string(r.Feature), encodeSender(r.Sender), r.Content, normalizeTime(r.CreatedAt))
	if err != nil {
		slog.Error("SQLiteStore.Append failed", "error", err, "user_id", r.UserID, "feature", r.Feature)
		return persistenceError("insert chat history", err)
	}
	slog.Debug("SQLiteStore.Append succeeded", "user_id", r.UserID, "feature", r.Feature, "sender", r.Sender)
	return nil
}

// ListOrdered returns the records for (userID, feature) oldest first.
func (s *SQLiteStore) ListOrdered(ctx context.Context, userID string, feature models.Feature) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, feature, sender, content, created_at FROM chat_history
		 WHERE user_id = ? AND feature = ? ORDER BY created_at ASC, id ASC`,
		userID, string(feature))
	if err != nil {
		slog.Error("SQLiteStore.ListOrdered query failed", "error", err, "user_id", userID)
		return nil, persistenceError("query chat history", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, persistenceError("scan chat history", err)
	}
	slog.Debug("SQLiteStore.ListOrdered", "user_id", userID, "feature", feature, "count", len(records))
	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
