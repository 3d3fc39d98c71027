package tutor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/parser"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/store"
)

// SwitchFeature changes the practice mode and reloads its persisted transcript. Retry state
// and any running capture are reset. When switches overlap only the newest load is applied.
func (s *Session) SwitchFeature(ctx context.Context, feature models.Feature) error {
	if !feature.IsValid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownFeature, feature)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.feature = feature
	s.loading = true
	s.retryPendingID = ""
	capture := s.deps.Capture
	s.mu.Unlock()
	if capture != nil && capture.Capturing() {
		capture.Stop()
	}
	s.notify()

	slog.Debug("Session.SwitchFeature: loading history", "user_id", s.userID, "feature", feature, "generation", gen)
	msgs := s.loadMessages(ctx, feature)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		slog.Debug("Session.SwitchFeature: discarding stale load", "user_id", s.userID, "feature", feature, "generation", gen)
		return nil
	}
	s.messages = s.withCachedExplanationsLocked(msgs)
	s.loading = false
	s.mu.Unlock()
	s.notify()
	slog.Info("Session.SwitchFeature: feature active", "user_id", s.userID, "feature", feature, "messages", len(msgs))
	return nil
}

// loadMessages returns the persisted transcript, or a single greeting when there is none.
func (s *Session) loadMessages(ctx context.Context, feature models.Feature) []models.Message {
	greeting := []models.Message{{Sender: models.SenderTutor, Text: prompt.Greeting, CreatedAt: s.deps.Now()}}
	if s.deps.Store == nil {
		return greeting
	}
	records, err := s.deps.Store.ListOrdered(ctx, s.userID, feature)
	if err != nil {
		slog.Warn("Session.loadMessages: history load failed, showing greeting", "user_id", s.userID, "feature", feature, "error", err)
		return greeting
	}
	if len(records) == 0 {
		return greeting
	}
	return recordsToMessages(records, s.parser)
}

// recordsToMessages rebuilds display messages from persisted records. Tutor records that
// follow the mistake protocol are parsed again so their corrections stay visible. Mistake
// ids derive from the record, so reloading the same history yields the same ids.
func recordsToMessages(records []store.Record, p *parser.Parser) []models.Message {
	msgs := make([]models.Message, 0, len(records))
	lastUser := ""
	for i, r := range records {
		if r.Sender == models.SenderUser {
			lastUser = r.Content
			msgs = append(msgs, models.Message{Sender: models.SenderUser, Text: r.Content, CreatedAt: r.CreatedAt})
			continue
		}
		msg := models.Message{Sender: models.SenderTutor, Text: r.Content, CreatedAt: r.CreatedAt}
		if parser.HasMarker(r.Content) {
			out := p.ParseWithID(r.Content, historyMistakeID(r, i))
			msg.Text = out.Text
			msg.Mistake = mistakeFromOutcome(out, lastUser)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// historyMistakeID names the mistake carried by a stored tutor record. Stores that assign
// no record id fall back to the record's position.
func historyMistakeID(r store.Record, pos int) string {
	if r.ID != 0 {
		return fmt.Sprintf("h_%06d", r.ID)
	}
	return fmt.Sprintf("h_p%06d", pos)
}

// withCachedExplanationsLocked restores detailed explanations generated earlier in this
// session onto reloaded mistakes that lack one.
func (s *Session) withCachedExplanationsLocked(msgs []models.Message) []models.Message {
	if len(s.explanations) == 0 {
		return msgs
	}
	for i := range msgs {
		m := msgs[i].Mistake
		if m == nil || m.DetailedExplanation != nil {
			continue
		}
		if detail, ok := s.explanations[explanationKey(*m)]; ok {
			updated := *m
			updated.DetailedExplanation = &detail
			msgs[i].Mistake = &updated
		}
	}
	return msgs
}

// recordsToTurns converts persisted records into generation context.
func recordsToTurns(records []store.Record) []models.Turn {
	turns := make([]models.Turn, 0, len(records))
	for _, r := range records {
		turns = append(turns, models.Turn{Role: r.Sender, Text: r.Content})
	}
	return turns
}

// messagesToTurns converts the in-memory transcript into generation context, skipping the
// greeting, typing placeholders and notices.
func messagesToTurns(msgs []models.Message) []models.Turn {
	turns := make([]models.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.IsTyping || m.IsNotice || (m.Sender == models.SenderTutor && m.Text == prompt.Greeting) {
			continue
		}
		turns = append(turns, models.Turn{Role: m.Sender, Text: m.Text})
	}
	return turns
}

func mistakeFromOutcome(out parser.Outcome, original string) *models.MistakeRecord {
	if !out.HasMistake {
		return nil
	}
	rec := &models.MistakeRecord{
		ID:               out.MistakeID,
		OriginalText:     original,
		CorrectedText:    out.CorrectedText,
		BriefExplanation: out.BriefExplanation,
	}
	if out.DetailedExplanation != "" {
		detail := out.DetailedExplanation
		rec.DetailedExplanation = &detail
	}
	return rec
}
