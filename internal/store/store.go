// Package store provides the chat history persistence gateway for TutorPipe.
//
// History is append-only and keyed by (user, feature). Reads return records in
// creation order, ties broken by insertion order.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// Persisted sender values.
const (
	senderUser = "user"
	senderAI   = "ai"
)

// Record is one persisted chat turn.
type Record struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Feature   models.Feature `json:"feature"`
	Sender    models.Sender  `json:"sender"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the persistence gateway.
type Store interface {
	Append(ctx context.Context, r Record) error
	ListOrdered(ctx context.Context, userID string, feature models.Feature) ([]Record, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN  string
	Type string // "sqlite" or "postgres"
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend at the given path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "sqlite"
	}
}

// WithPostgresDSN selects the PostgreSQL backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "postgres"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// New opens the backend selected by opts. Without a DSN the store is in memory.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if cfg.Type == "" {
		cfg.Type = DetectDSNType(cfg.DSN)
	}
	switch cfg.Type {
	case "postgres":
		return NewPostgresStore(opts...)
	case "sqlite":
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}
}

func encodeSender(s models.Sender) string {
	if s == models.SenderUser {
		return senderUser
	}
	return senderAI
}

func decodeSender(s string) models.Sender {
	if s == senderUser {
		return models.SenderUser
	}
	return models.SenderTutor
}

func validate(r Record) error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", models.ErrPersistence)
	}
	if !r.Feature.IsValid() {
		return fmt.Errorf("%w: %w", models.ErrPersistence, models.ErrUnknownFeature)
	}
	return nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrPersistence, op, err)
}

// InMemoryStore keeps history in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[string][]Record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func memKey(userID string, feature models.Feature) string {
	return userID + "\x00" + string(feature)
}

// Append stores a record. A zero CreatedAt is set to now.
func (s *InMemoryStore) Append(ctx context.Context, r Record) error {
	if err := validate(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	key := memKey(r.UserID, r.Feature)
	s.records[key] = append(s.records[key], r)
	return nil
}

// ListOrdered returns the records for (userID, feature) by creation time.
func (s *InMemoryStore) ListOrdered(ctx context.Context, userID string, feature models.Feature) ([]Record, error) {
	s.mu.RLock()
	src := s.records[memKey(userID, feature)]
	out := make([]Record, len(src))
	copy(out, src)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
