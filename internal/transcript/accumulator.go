// Package transcript accumulates speech recognition results into a single utterance.
//
// The functions here are pure: they select alternatives and concatenate text but
// never touch timers or I/O. The capture controller owns the timing decisions.
package transcript

import "strings"

const (
	// LowConfidenceThreshold flags finals below this score. Flagged finals are still accepted.
	LowConfidenceThreshold = 0.6
	// InterimConfidenceFloor hides interim alternatives at or below this score from the preview.
	InterimConfidenceFloor = 0.3
)

// Alternative is one ranked hypothesis for a recognition result.
type Alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence,omitempty"` // nil when the recognizer does not report one
}

// Result is one recognition result. Interim results may still change, finals are committed.
type Result struct {
	IsFinal      bool          `json:"isFinal"`
	Alternatives []Alternative `json:"alternatives"`
}

// Update describes the effect of applying one fragment event.
type Update struct {
	FinalAppended string // concatenated text of the finals in this event
	Preview       string // interim preview; empty when the event carried no interim text
	LowConfidence bool   // at least one final fell below LowConfidenceThreshold
}

func confidenceOf(a Alternative) float64 {
	if a.Confidence == nil {
		return 0
	}
	return *a.Confidence
}

// SelectFinal picks the highest-confidence alternative of a result. Ties keep the
// earlier (higher ranked) alternative.
func SelectFinal(r Result) (text string, confidence float64, low bool) {
	if len(r.Alternatives) == 0 {
		return "", 0, false
	}
	best := r.Alternatives[0]
	for _, alt := range r.Alternatives[1:] {
		if confidenceOf(alt) > confidenceOf(best) {
			best = alt
		}
	}
	confidence = confidenceOf(best)
	low = best.Confidence != nil && confidence < LowConfidenceThreshold
	return best.Transcript, confidence, low
}

// Interim concatenates the top alternative of each interim result whose confidence is
// unknown or above InterimConfidenceFloor.
func Interim(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		if r.IsFinal || len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if alt.Confidence != nil && *alt.Confidence <= InterimConfidenceFloor {
			continue
		}
		b.WriteString(alt.Transcript)
	}
	return b.String()
}

// Accumulator collects finalized text across the fragment events of one capture.
type Accumulator struct {
	text strings.Builder
}

// Apply folds one fragment event into the accumulator.
func (a *Accumulator) Apply(results []Result) Update {
	var u Update
	var finals strings.Builder
	for _, r := range results {
		if !r.IsFinal {
			continue
		}
		text, _, low := SelectFinal(r)
		finals.WriteString(text)
		if low {
			u.LowConfidence = true
		}
	}
	u.FinalAppended = finals.String()
	a.text.WriteString(u.FinalAppended)
	u.Preview = Interim(results)
	return u
}

// Text returns everything finalized so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Utterance returns the trimmed accumulated text.
func (a *Accumulator) Utterance() string {
	return strings.TrimSpace(a.text.String())
}

// Reset clears the accumulator for a new capture.
func (a *Accumulator) Reset() {
	a.text.Reset()
}
