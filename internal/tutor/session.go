// Package tutor implements the conversation orchestrator: one Session per learner owns the
// transcript, the active feature and the retry state, and sequences prompt building,
// generation, parsing and persistence for every turn.
package tutor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/genai"
	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/parser"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/speech"
	"github.com/BTreeMap/TutorPipe/internal/store"
)

// Speaker synthesizes tutor replies. Speak must not block on playback.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Capturer is the speech capture surface a Session drives. *speech.Controller implements it.
type Capturer interface {
	Start(ctx context.Context, opts speech.Options) (<-chan speech.Outcome, error)
	Stop()
	Capturing() bool
	Preview() string
}

// Deps are the collaborators injected into a Session.
type Deps struct {
	Language genai.LanguageService // nil means no API key was configured
	Store    store.Store           // nil disables persistence
	IDs      parser.IDGenerator
	Now      func() time.Time
	Speaker  Speaker
	Capture  Capturer
}

// Option configures a Session.
type Option func(*Session)

// WithBuilder overrides the prompt builder.
func WithBuilder(b *prompt.Builder) Option {
	return func(s *Session) { s.builder = b }
}

// WithParser overrides the response parser.
func WithParser(p *parser.Parser) Option {
	return func(s *Session) { s.parser = p }
}

// WithFeature sets the feature a new session starts in.
func WithFeature(f models.Feature) Option {
	return func(s *Session) { s.feature = f }
}

// Session is the state machine for one learner.
//
// Mistake records reachable from messages are never mutated in place; updates replace the
// pointer, so snapshots can share them.
type Session struct {
	userID  string
	deps    Deps
	builder *prompt.Builder
	parser  *parser.Parser

	mu             sync.Mutex
	feature        models.Feature
	messages       []models.Message
	loading        bool
	sending        bool
	retryPendingID string
	generation     uint64 // bumped on every feature switch
	subscribers    map[int]chan models.SessionSnapshot
	nextSubID      int
	explanations   map[string]string // generated detailed explanations by explanationKey
}

// NewSession creates a session for userID. The transcript is empty until SwitchFeature loads it.
func NewSession(userID string, deps Deps, opts ...Option) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IDs == nil {
		deps.IDs = parser.NewSequence()
	}
	s := &Session{
		userID:       userID,
		deps:         deps,
		feature:      models.FeatureFreeTalk,
		subscribers:  make(map[int]chan models.SessionSnapshot),
		explanations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = prompt.NewBuilder()
	}
	if s.parser == nil {
		s.parser = parser.New(deps.IDs)
	}
	return s
}

// UserID returns the learner id.
func (s *Session) UserID() string { return s.userID }

// Feature returns the active feature.
func (s *Session) Feature() models.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feature
}

// Phase returns the current state machine phase.
func (s *Session) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

func (s *Session) phaseLocked() models.Phase {
	switch {
	case s.loading:
		return models.PhaseLoadingHistory
	case s.sending:
		return models.PhaseAwaitingResponse
	case s.retryPendingID != "":
		return models.PhaseAwaitingRetry
	default:
		return models.PhaseIdle
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	snap := s.snapshotLocked()
	capture := s.deps.Capture
	s.mu.Unlock()
	if capture != nil {
		snap.Capturing = capture.Capturing()
		snap.Preview = capture.Preview()
	}
	return snap
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return models.SessionSnapshot{
		UserID:         s.userID,
		Feature:        s.feature,
		Phase:          s.phaseLocked(),
		Messages:       msgs,
		Sending:        s.sending,
		RetryPendingID: s.retryPendingID,
	}
}

// Subscribe returns a channel that receives the latest snapshot after every change.
// Slow readers only see the most recent snapshot. Call the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan models.SessionSnapshot, func()) {
	ch := make(chan models.SessionSnapshot, 1)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// notify publishes the current snapshot to subscribers.
func (s *Session) notify() {
	snap := s.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// SetSpeaker replaces the speech synthesis collaborator.
func (s *Session) SetSpeaker(sp Speaker) {
	s.mu.Lock()
	s.deps.Speaker = sp
	s.mu.Unlock()
}

// DetachSpeaker clears the speaker if sp is still the attached one.
func (s *Session) DetachSpeaker(sp Speaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deps.Speaker == sp {
		s.deps.Speaker = nil
	}
}

// SetCapture attaches a capture controller, stopping any capture on the previous one.
func (s *Session) SetCapture(c Capturer) {
	s.mu.Lock()
	prev := s.deps.Capture
	s.deps.Capture = c
	s.mu.Unlock()
	if prev != nil && prev != c && prev.Capturing() {
		prev.Stop()
	}
	s.notify()
}

// DetachCapture clears the capture controller if c is still the attached one.
func (s *Session) DetachCapture(c Capturer) {
	s.mu.Lock()
	if s.deps.Capture != c {
		s.mu.Unlock()
		return
	}
	s.deps.Capture = nil
	s.mu.Unlock()
	if c.Capturing() {
		c.Stop()
	}
	slog.Debug("Session.DetachCapture: capture detached", "user_id", s.userID)
	s.notify()
}

// appendNotice adds a system notice authored by the tutor.
func (s *Session) appendNotice(text string) models.Message {
	msg := models.Message{Sender: models.SenderTutor, Text: text, IsNotice: true, CreatedAt: s.deps.Now()}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
	return msg
}
