// Package models defines the core data structures for TutorPipe.
//
// It includes the conversation transcript types, the feature modes a learner can
// practice in, and the JSON envelopes returned by the HTTP API.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Feature selects the practice mode of a tutoring session.
type Feature string

const (
	// FeatureFreeTalk is open conversation practice.
	FeatureFreeTalk Feature = "freeTalk"
	// FeatureVocabulary focuses on word meaning and usage.
	FeatureVocabulary Feature = "vocabulary"
	// FeatureGrammar focuses on grammar rules.
	FeatureGrammar Feature = "grammar"
	// FeatureMistakeReview reviews common learner mistakes.
	FeatureMistakeReview Feature = "mistakeReview"
)

// Features lists every feature in display order.
var Features = []Feature{FeatureFreeTalk, FeatureVocabulary, FeatureGrammar, FeatureMistakeReview}

// IsValid reports whether f is one of the known features.
func (f Feature) IsValid() bool {
	switch f {
	case FeatureFreeTalk, FeatureVocabulary, FeatureGrammar, FeatureMistakeReview:
		return true
	default:
		return false
	}
}

// ParseFeature accepts a feature id case-insensitively. The legacy id "mistakes"
// maps to FeatureMistakeReview so transcripts written under the old name still load.
func ParseFeature(s string) (Feature, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "freetalk", "free_talk", "free-talk":
		return FeatureFreeTalk, nil
	case "vocabulary":
		return FeatureVocabulary, nil
	case "grammar":
		return FeatureGrammar, nil
	case "mistakereview", "mistake_review", "mistakes", "review":
		return FeatureMistakeReview, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
}

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks learner-authored messages.
	SenderUser Sender = "user"
	// SenderTutor marks tutor-authored messages, including notices.
	SenderTutor Sender = "tutor"
)

// MistakeRecord describes one correction offered by the tutor.
type MistakeRecord struct {
	ID                  string  `json:"id"`
	OriginalText        string  `json:"original_text"`
	CorrectedText       string  `json:"corrected_text"`
	BriefExplanation    string  `json:"brief_explanation"`
	DetailedExplanation *string `json:"detailed_explanation,omitempty"` // nil until requested
	AwaitingRetry       bool    `json:"awaiting_retry"`
	Retried             bool    `json:"retried"`
}

// Message is one entry of a session transcript.
type Message struct {
	Sender    Sender         `json:"sender"`
	Text      string         `json:"text"`
	IsTyping  bool           `json:"is_typing,omitempty"`
	IsNotice  bool           `json:"is_notice,omitempty"` // error or capture notices authored by the system
	Mistake   *MistakeRecord `json:"mistake,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Turn is one role-tagged entry of conversation context sent to the language service.
type Turn struct {
	Role Sender `json:"role"`
	Text string `json:"text"`
}

// Phase is the orchestrator state.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseLoadingHistory   Phase = "loading_history"
	PhaseAwaitingResponse Phase = "awaiting_response"
	PhaseAwaitingRetry    Phase = "awaiting_retry"
)

// SessionSnapshot is a point-in-time copy of a tutoring session.
type SessionSnapshot struct {
	UserID         string    `json:"user_id"`
	Feature        Feature   `json:"feature"`
	Phase          Phase     `json:"phase"`
	Messages       []Message `json:"messages"`
	Sending        bool      `json:"sending"`
	Capturing      bool      `json:"capturing"`
	RetryPendingID string    `json:"retry_pending_id,omitempty"`
	Preview        string    `json:"preview,omitempty"`
}

// InputDisabled reports whether text input should be gated.
func (s SessionSnapshot) InputDisabled() bool {
	return s.Sending || s.Capturing
}

// GenerationRequest is one language-service call: a system instruction plus ordered context.
type GenerationRequest struct {
	SystemInstruction string `json:"system_instruction"`
	Context           []Turn `json:"context"`
}
