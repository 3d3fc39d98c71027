package prompt

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// Fixed tutor copy.
const (
	Greeting   = "Hi! I'm Ava, your English coach. Let's practice together!"
	TypingText = "Ava is typing..."
	RetryHint  = "Try saying the corrected sentence..."
)

// Capture notices, keyed by the error they describe.
const (
	NoticeNetwork          = "Network error during speech recognition. Please check your connection and try again."
	NoticePermissionDenied = "Microphone access denied. Please enable microphone permissions and try again."
	NoticePermissionNeeded = "Microphone access is required for voice input. Please enable microphone permissions in your browser settings."
	NoticeAudioCapture     = "Audio capture error. Please check your microphone and try again."
	NoticeStartFailure     = "Could not start speech recognition. Please try again."
	NoticeUnsupported      = "Speech recognition is not supported in this browser. Please use Chrome, Safari, or Edge for voice features."
	NoticeUnclassified     = "Speech recognition stopped unexpectedly. Please try again."
)

// FeatureInfo is the display copy for a feature.
type FeatureInfo struct {
	ID          models.Feature `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Placeholder string         `json:"placeholder"`
}

var featureInfo = map[models.Feature]FeatureInfo{
	models.FeatureFreeTalk: {
		ID: models.FeatureFreeTalk, Name: "Free Talk",
		Description: "Want to talk about travel, hobbies, or your job?",
		Placeholder: "Type your English here...",
	},
	models.FeatureVocabulary: {
		ID: models.FeatureVocabulary, Name: "Vocabulary",
		Description: "Let's expand your vocabulary! Ask about words or I'll teach you new ones.",
		Placeholder: "Type a word or ask for a new one...",
	},
	models.FeatureGrammar: {
		ID: models.FeatureGrammar, Name: "Grammar",
		Description: "I'll help you with grammar rules and correct your sentences.",
		Placeholder: "Ask a grammar question or provide a sentence...",
	},
	models.FeatureMistakeReview: {
		ID: models.FeatureMistakeReview, Name: "Review",
		Description: "Share some text and I'll help you find and fix any mistakes.",
		Placeholder: "Paste text to review for mistakes...",
	},
}

// Describe returns the display copy for a feature.
func Describe(f models.Feature) FeatureInfo {
	if info, ok := featureInfo[f]; ok {
		return info
	}
	return featureInfo[models.FeatureFreeTalk]
}

// Catalog lists every feature in display order.
func Catalog() []FeatureInfo {
	out := make([]FeatureInfo, 0, len(models.Features))
	for _, f := range models.Features {
		out = append(out, Describe(f))
	}
	return out
}

// InputPlaceholder returns the input hint, switching to the retry hint while a correction is pending.
func InputPlaceholder(f models.Feature, awaitingRetry bool) string {
	if awaitingRetry {
		return RetryHint
	}
	return Describe(f).Placeholder
}

// ErrorNotice renders a failed turn as tutor-visible text.
func ErrorNotice(err error) string {
	return fmt.Sprintf("Error: %s", err.Error())
}

// CorrectivePhrase picks the lead-in for a correction card: "You mean" when the
// corrected sentence is about as long as the original, "You should say" otherwise.
func CorrectivePhrase(original, corrected string) string {
	diff := len(strings.Fields(original)) - len(strings.Fields(corrected))
	if diff < 0 {
		diff = -diff
	}
	if diff <= 1 {
		return "You mean"
	}
	return "You should say"
}
