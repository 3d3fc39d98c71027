package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
)

// Explain returns the detailed explanation of a mistake, generating it on first request.
// When generation is unavailable or fails the fixed Russian template is used instead.
func (s *Session) Explain(ctx context.Context, mistakeID string) (string, error) {
	s.mu.Lock()
	rec := s.findMistakeLocked(mistakeID)
	if rec == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrMistakeNotFound, mistakeID)
	}
	if rec.DetailedExplanation != nil && strings.TrimSpace(*rec.DetailedExplanation) != "" {
		detail := *rec.DetailedExplanation
		s.mu.Unlock()
		return detail, nil
	}
	key := explanationKey(*rec)
	if detail, ok := s.explanations[key]; ok {
		s.mu.Unlock()
		return detail, nil
	}
	original, corrected, brief := rec.OriginalText, rec.CorrectedText, rec.BriefExplanation
	s.mu.Unlock()

	detail := s.generateExplanation(ctx, original, corrected, brief)

	s.mu.Lock()
	s.explanations[key] = detail
	for i := range s.messages {
		m := s.messages[i].Mistake
		if m == nil || m.ID != mistakeID {
			continue
		}
		updated := *m
		updated.DetailedExplanation = &detail
		s.messages[i].Mistake = &updated
	}
	s.mu.Unlock()
	s.notify()
	return detail, nil
}

// explanationKey identifies a mistake by the inputs its explanation is generated from. It is
// the same for a live mistake and its reloaded copy.
func explanationKey(m models.MistakeRecord) string {
	return m.OriginalText + "\x00" + m.CorrectedText + "\x00" + m.BriefExplanation
}

func (s *Session) generateExplanation(ctx context.Context, original, corrected, brief string) string {
	if s.deps.Language == nil {
		slog.Debug("Session.Explain: no language service, using fallback", "user_id", s.userID)
		return prompt.FallbackExplanation(original, corrected, brief)
	}
	req := models.GenerationRequest{
		Context: []models.Turn{{Role: models.SenderUser, Text: prompt.DetailedExplanationPrompt(original, corrected, brief)}},
	}
	text, err := s.deps.Language.Generate(ctx, req)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("Session.Explain: generation failed, using fallback", "user_id", s.userID, "error", err)
		return prompt.FallbackExplanation(original, corrected, brief)
	}
	return strings.TrimSpace(text)
}

// LatestMistake returns the newest mistake in the transcript, if any.
func (s *Session) LatestMistake() (models.MistakeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if m := s.messages[i].Mistake; m != nil {
			return *m, true
		}
	}
	return models.MistakeRecord{}, false
}

func (s *Session) findMistakeLocked(id string) *models.MistakeRecord {
	for i := range s.messages {
		if m := s.messages[i].Mistake; m != nil && m.ID == id {
			return m
		}
	}
	return nil
}
