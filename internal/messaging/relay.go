package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/tutor"
)

// DefaultTurnTimeout bounds one relayed tutor turn.
const DefaultTurnTimeout = 2 * time.Minute

// UserIDPrefix namespaces learners reached through a chat channel.
const UserIDPrefix = "wa:+"

// Relay copy.
const (
	busyReply      = "Ava is still answering your previous message. Please wait a moment."
	noMistakeReply = "There is no correction to explain yet."
	helpReply      = `Commands:
/freetalk - free conversation
/vocabulary - learn new words
/grammar - grammar practice
/review - review your mistakes
/explain - detailed explanation of the last correction`
)

// SessionSource resolves the tutoring session for a learner. *tutor.Manager implements it.
type SessionSource interface {
	Get(ctx context.Context, userID string) (*tutor.Session, error)
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithTurnTimeout overrides DefaultTurnTimeout.
func WithTurnTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.turnTimeout = d }
}

// Relay feeds inbound chat messages into tutoring sessions and sends the replies back.
type Relay struct {
	svc         Service
	sessions    SessionSource
	turnTimeout time.Duration
	wg          sync.WaitGroup
}

// NewRelay creates a Relay for one channel.
func NewRelay(svc Service, sessions SessionSource, opts ...RelayOption) *Relay {
	r := &Relay{svc: svc, sessions: sessions, turnTimeout: DefaultTurnTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles inbound messages until the responses channel closes or ctx is done, then
// waits for turns in progress.
func (r *Relay) Run(ctx context.Context) {
	defer r.wg.Wait()
	responses := r.svc.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-responses:
			if !ok {
				return
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				if err := r.Handle(ctx, resp); err != nil {
					slog.Error("Relay.Run: message not handled", "from", resp.From, "error", err)
				}
			}()
		}
	}
}

// Handle processes one inbound message and sends the reply.
func (r *Relay) Handle(ctx context.Context, resp models.Response) error {
	phone, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.turnTimeout)
	defer cancel()

	session, err := r.sessions.Get(ctx, UserIDPrefix+phone)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	reply := r.reply(ctx, session, strings.TrimSpace(resp.Body))
	if reply == "" {
		return nil
	}
	if err := r.svc.SendMessage(ctx, phone, reply); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	slog.Info("Relay.Handle: reply sent", "user_id", session.UserID(), "reply_length", len(reply))
	return nil
}

func (r *Relay) reply(ctx context.Context, session *tutor.Session, text string) string {
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "/") {
		return r.command(ctx, session, text)
	}
	msg, err := session.Submit(ctx, text, tutor.SubmitOptions{})
	switch {
	case errors.Is(err, models.ErrBusy):
		return busyReply
	case errors.Is(err, models.ErrEmptyInput):
		return ""
	}
	return FormatForText(msg)
}

func (r *Relay) command(ctx context.Context, session *tutor.Session, text string) string {
	name := strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
	switch name {
	case "help", "start":
		return helpReply
	case "explain":
		mistake, ok := session.LatestMistake()
		if !ok {
			return noMistakeReply
		}
		detail, err := session.Explain(ctx, mistake.ID)
		if err != nil {
			slog.Warn("Relay.command: explain failed", "user_id", session.UserID(), "error", err)
			return noMistakeReply
		}
		return detail
	}

	feature, err := models.ParseFeature(name)
	if err != nil {
		return helpReply
	}
	if err := session.SwitchFeature(ctx, feature); err != nil {
		slog.Warn("Relay.command: switch failed", "user_id", session.UserID(), "error", err)
		return prompt.ErrorNotice(err)
	}
	info := prompt.Describe(feature)
	return fmt.Sprintf("Switched to %s. %s", info.Name, info.Placeholder)
}

// FormatForText renders a tutor message for plain text channels.
func FormatForText(m models.Message) string {
	text := strings.TrimSpace(m.Text)
	if m.Mistake == nil || m.Mistake.CorrectedText == "" {
		return text
	}
	phrase := prompt.CorrectivePhrase(m.Mistake.OriginalText, m.Mistake.CorrectedText)
	return fmt.Sprintf("%s\n\n%s: \"%s\"", text, phrase, m.Mistake.CorrectedText)
}
