package speech

import (
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

var featureHints = map[models.Feature][]string{
	models.FeatureVocabulary:    {"word", "definition", "meaning", "example", "synonym", "antonym"},
	models.FeatureGrammar:       {"noun", "verb", "adjective", "adverb", "tense", "sentence", "question"},
	models.FeatureMistakeReview: {"correct", "wrong", "mistake", "error", "fix", "review"},
}

var defaultHints = []string{"hello", "how", "what", "when", "where", "why", "please", "thank you"}

// HintsForFeature returns the recognition vocabulary biased toward a feature.
func HintsForFeature(f models.Feature) []string {
	hints, ok := featureHints[f]
	if !ok {
		hints = defaultHints
	}
	out := make([]string, len(hints))
	copy(out, hints)
	return out
}

// JSGFGrammar renders hints as a JSGF grammar string. Returns "" for no hints.
func JSGFGrammar(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	return "#JSGF V1.0; grammar hints; public <hint> = " + strings.Join(hints, " | ") + ";"
}

// OptionsForFeature returns DefaultOptions with the feature's recognition hints.
func OptionsForFeature(f models.Feature) Options {
	opts := DefaultOptions()
	opts.Hints = HintsForFeature(f)
	opts.Grammar = JSGFGrammar(opts.Hints)
	return opts
}
