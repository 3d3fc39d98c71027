package tutor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/store"
)

// SubmitOptions tunes one submission.
type SubmitOptions struct {
	// Retry forces the retry flag. When nil the flag is set if a correction is pending.
	Retry *bool
	// AutoSpeak speaks the tutor reply through the attached Speaker.
	AutoSpeak bool
}

// Submit sends one learner turn and returns the tutor message that replaced the typing
// placeholder. Blank input returns ErrEmptyInput and a submission while another is in
// flight returns ErrBusy; neither touches the transcript. Generation failures are shown
// as a notice message, which is returned together with the error.
func (s *Session) Submit(ctx context.Context, text string, opts SubmitOptions) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, models.ErrEmptyInput
	}

	s.mu.Lock()
	if s.sending || s.loading {
		s.mu.Unlock()
		return models.Message{}, models.ErrBusy
	}
	retry := s.retryPendingID != ""
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	s.closeRetryLocked(retry)
	feature := s.feature
	gen := s.generation
	fallback := messagesToTurns(s.messages)
	now := s.deps.Now()
	s.messages = append(s.messages,
		models.Message{Sender: models.SenderUser, Text: text, CreatedAt: now},
		models.Message{Sender: models.SenderTutor, Text: prompt.TypingText, IsTyping: true, CreatedAt: now},
	)
	s.sending = true
	s.mu.Unlock()
	s.notify()

	slog.Debug("Session.Submit: dispatching turn", "user_id", s.userID, "feature", feature, "retry", retry, "text_length", len(text))
	s.persist(ctx, feature, models.SenderUser, text)

	history := append(fallback, models.Turn{Role: models.SenderUser, Text: text})
	if s.deps.Store != nil {
		records, err := s.deps.Store.ListOrdered(ctx, s.userID, feature)
		if err != nil {
			slog.Warn("Session.Submit: history read failed, using in-memory transcript", "user_id", s.userID, "error", err)
		} else {
			history = recordsToTurns(records)
		}
	}
	req := s.builder.Build(feature, history, text, retry)

	raw, err := s.generate(ctx, req)
	if err != nil {
		slog.Error("Session.Submit: generation failed", "user_id", s.userID, "feature", feature, "error", err)
		notice := models.Message{Sender: models.SenderTutor, Text: prompt.ErrorNotice(err), IsNotice: true, CreatedAt: s.deps.Now()}
		s.mu.Lock()
		s.sending = false
		if s.generation == gen {
			s.replacePlaceholderLocked(notice)
		}
		s.mu.Unlock()
		s.notify()
		return notice, err
	}

	out := s.parser.Parse(raw)
	reply := models.Message{
		Sender:    models.SenderTutor,
		Text:      out.Text,
		Mistake:   mistakeFromOutcome(out, text),
		CreatedAt: s.deps.Now(),
	}
	if reply.Mistake != nil {
		reply.Mistake.AwaitingRetry = true
	}
	s.persist(ctx, feature, models.SenderTutor, raw)

	s.mu.Lock()
	s.sending = false
	stale := s.generation != gen
	if !stale {
		s.replacePlaceholderLocked(reply)
		if reply.Mistake != nil {
			s.retryPendingID = reply.Mistake.ID
		}
	}
	speaker := s.deps.Speaker
	s.mu.Unlock()
	s.notify()

	if stale {
		slog.Info("Session.Submit: feature changed while waiting, reply kept in history only", "user_id", s.userID, "feature", feature)
		return reply, nil
	}
	slog.Debug("Session.Submit: reply applied", "user_id", s.userID, "has_mistake", out.HasMistake, "compliant", out.Compliant)
	if opts.AutoSpeak && speaker != nil {
		if err := speaker.Speak(ctx, reply.Text); err != nil {
			slog.Warn("Session.Submit: speak failed", "user_id", s.userID, "error", err)
		}
	}
	return reply, nil
}

func (s *Session) generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	if s.deps.Language == nil {
		return "", models.ErrConfigurationMissing
	}
	return s.deps.Language.Generate(ctx, req)
}

// closeRetryLocked clears the pending correction. Any next submission closes it.
func (s *Session) closeRetryLocked(retried bool) {
	if s.retryPendingID == "" {
		return
	}
	for i := range s.messages {
		m := s.messages[i].Mistake
		if m == nil || m.ID != s.retryPendingID {
			continue
		}
		updated := *m
		updated.AwaitingRetry = false
		updated.Retried = retried
		s.messages[i].Mistake = &updated
	}
	s.retryPendingID = ""
}

// replacePlaceholderLocked swaps the newest typing placeholder for msg, appending when
// none is present.
func (s *Session) replacePlaceholderLocked(msg models.Message) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsTyping {
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
}

// persist appends one history record. Failures are logged and do not stop the turn.
func (s *Session) persist(ctx context.Context, feature models.Feature, sender models.Sender, content string) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.Append(ctx, store.Record{
		UserID:    s.userID,
		Feature:   feature,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.deps.Now(),
	})
	if err != nil {
		slog.Error("Session.persist: append failed", "user_id", s.userID, "feature", feature, "sender", sender, "error", err)
	}
}
