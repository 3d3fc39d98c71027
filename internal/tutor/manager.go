package tutor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// Manager owns one Session per learner.
type Manager struct {
	deps Deps
	opts []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions share deps. Speaker and Capture are per
// session and normally attached later.
func NewManager(deps Deps, opts ...Option) *Manager {
	return &Manager{deps: deps, opts: opts, sessions: make(map[string]*Session)}
}

// Get returns the session for userID, creating it and loading the default feature on first use.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	deps := m.deps
	deps.Speaker = nil
	deps.Capture = nil
	s := NewSession(userID, deps, m.opts...)
	m.sessions[userID] = s
	m.mu.Unlock()

	slog.Info("Manager.Get: session created", "user_id", userID)
	if err := s.SwitchFeature(ctx, s.Feature()); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Snapshots returns a snapshot of every session.
func (m *Manager) Snapshots() []models.SessionSnapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	out := make([]models.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
