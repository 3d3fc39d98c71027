package parser

import (
	"strings"
	"testing"
)

func newTestParser() *Parser {
	return New(NewSequenceWithPrefix("m"))
}

func TestParseNoMistake(t *testing.T) {
	p := newTestParser()
	tests := []struct {
		in   string
		want string
	}{
		{"NO_MISTAKE: Great job! Tell me more about your weekend.", "Great job! Tell me more about your weekend."},
		{"NO_MISTAKE:   Perfect sentence!  ", "Perfect sentence!"},
		{"NO_MISTAKE: The marker NO_MISTAKE: stays when repeated", "The marker NO_MISTAKE: stays when repeated"},
		{"\n NO_MISTAKE: leading whitespace is tolerated", "leading whitespace is tolerated"},
	}
	for _, tt := range tests {
		out := p.Parse(tt.in)
		if out.HasMistake || !out.Compliant || out.Text != tt.want || out.MistakeID != "" {
			t.Errorf("Parse(%q) = %+v, want text %q", tt.in, out, tt.want)
		}
	}
}

func TestParseMistakeDetected(t *testing.T) {
	p := newTestParser()
	in := "MISTAKE_DETECTED: You meant: 'I went to the park yesterday'. We use past tense. Can you try saying it again? RUSSIAN_EXPLANATION: Используйте прошедшее время."
	out := p.Parse(in)
	if !out.HasMistake || !out.Compliant {
		t.Fatalf("expected compliant mistake outcome, got %+v", out)
	}
	if out.CorrectedText != "I went to the park yesterday" {
		t.Errorf("CorrectedText = %q", out.CorrectedText)
	}
	if out.BriefExplanation != "We use past tense" || out.Strategy != "sentence-before-retry" {
		t.Errorf("BriefExplanation = %q via %q", out.BriefExplanation, out.Strategy)
	}
	if out.DetailedExplanation != "Используйте прошедшее время." {
		t.Errorf("DetailedExplanation = %q", out.DetailedExplanation)
	}
	if out.Text != "You meant: 'I went to the park yesterday'. We use past tense. Can you try saying it again?" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.MistakeID != "m_000001" {
		t.Errorf("MistakeID = %q", out.MistakeID)
	}
}

func TestParseMistakeIDsAreMonotonic(t *testing.T) {
	p := newTestParser()
	a := p.Parse("MISTAKE_DETECTED: You meant: 'a'. x. Can you try saying it again?")
	b := p.Parse("MISTAKE_DETECTED: You meant: 'b'. y. Can you try saying it again?")
	if a.MistakeID == b.MistakeID || a.MistakeID >= b.MistakeID {
		t.Errorf("ids not monotonic: %q then %q", a.MistakeID, b.MistakeID)
	}
}

func TestParseWithIDKeepsGivenID(t *testing.T) {
	p := newTestParser()
	in := "MISTAKE_DETECTED: You meant: 'She goes to school'. Use goes. Can you try saying it again?"
	for i := 0; i < 2; i++ {
		if out := p.ParseWithID(in, "h_7"); out.MistakeID != "h_7" || !out.HasMistake {
			t.Fatalf("ParseWithID = %+v, want id h_7", out)
		}
	}
	if out := p.ParseWithID("NO_MISTAKE: fine", "h_8"); out.MistakeID != "" {
		t.Errorf("no-mistake outcome got id %q", out.MistakeID)
	}
	if out := p.Parse(in); out.MistakeID != "m_000001" {
		t.Errorf("ParseWithID advanced the sequence: next id %q", out.MistakeID)
	}
}

func TestNewSequenceHasRandomPrefix(t *testing.T) {
	a, b := NewSequence().NextMistakeID(), NewSequence().NextMistakeID()
	if !strings.HasPrefix(a, "m_") || !strings.HasSuffix(a, "_000001") {
		t.Errorf("unexpected id %q", a)
	}
	if a == b {
		t.Errorf("two sequences produced the same first id %q", a)
	}
}

func TestParseCorrectedTextVerbatim(t *testing.T) {
	p := newTestParser()
	inputs := map[string]string{
		`MISTAKE_DETECTED: You meant: "She doesn't like apples". Use does with she. Can you try saying it again?`: "She doesn",
		`MISTAKE_DETECTED: You meant: "I have two cats". Plural nouns take -s. Can you try saying it again?`:        "I have two cats",
		`MISTAKE_DETECTED: Try 'What does happy mean?' or 'What is happy?'. Use mean. Can you try saying it again?`: "What does happy mean?",
	}
	for in, want := range inputs {
		if got := p.Parse(in).CorrectedText; got != want {
			t.Errorf("Parse(%q).CorrectedText = %q, want %q", in, got, want)
		}
	}
}

func TestBriefExplanationStrategies(t *testing.T) {
	p := newTestParser()
	tests := []struct {
		name     string
		in       string
		brief    string
		strategy string
	}{
		{
			name:     "boundary without retry phrase",
			in:       "MISTAKE_DETECTED: You meant: 'I need you to check my homework'. We need 'to' after need you. RUSSIAN_EXPLANATION: Нужна частица to.",
			brief:    "We need 'to' after need you",
			strategy: "sentence-before-boundary",
		},
		{
			name:     "question mark inside quote",
			in:       "MISTAKE_DETECTED: You meant: 'When should I use past tense?' After modal verbs we use the base form. Can you try saying it again? RUSSIAN_EXPLANATION: После модальных глаголов.",
			brief:    "After modal verbs we use the base form",
			strategy: "after-correction",
		},
		{
			name:     "no explanation at all",
			in:       "MISTAKE_DETECTED: 'I am here'",
			brief:    "",
			strategy: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Parse(tt.in)
			if !out.HasMistake {
				t.Fatalf("expected mistake: %+v", out)
			}
			if out.BriefExplanation != tt.brief || out.Strategy != tt.strategy {
				t.Errorf("brief = %q via %q, want %q via %q", out.BriefExplanation, out.Strategy, tt.brief, tt.strategy)
			}
		})
	}
}

func TestMistakeWithoutExplanationMarker(t *testing.T) {
	out := newTestParser().Parse("MISTAKE_DETECTED: You meant: 'I am fine'. Use am with I. Can you try saying it again?")
	if out.DetailedExplanation != "" {
		t.Errorf("DetailedExplanation = %q, want empty", out.DetailedExplanation)
	}
	if out.BriefExplanation != "Use am with I" {
		t.Errorf("BriefExplanation = %q", out.BriefExplanation)
	}
}

func TestNonCompliantResponseIsVerbatim(t *testing.T) {
	p := newTestParser()
	for _, in := range []string{
		"",
		"Hello there! How are you?",
		"  spaced out  ",
		"I think MISTAKE_DETECTED: appears later",
	} {
		out := p.Parse(in)
		if out.HasMistake || out.Compliant || out.Text != in {
			t.Errorf("Parse(%q) = %+v, want verbatim non-compliant", in, out)
		}
	}
}

func TestCustomStrategyTable(t *testing.T) {
	p := New(NewSequenceWithPrefix("x"), WithStrategies([]Strategy{{
		Name: "upper",
		Extract: func(s Segment) (string, bool) {
			return strings.ToUpper(s.Corrected), s.Corrected != ""
		},
	}}))
	out := p.Parse("MISTAKE_DETECTED: 'go home'")
	if out.BriefExplanation != "GO HOME" || out.Strategy != "upper" {
		t.Errorf("custom strategy not applied: %+v", out)
	}
}

func TestHasMarker(t *testing.T) {
	if !HasMarker("NO_MISTAKE: hi") || !HasMarker("x MISTAKE_DETECTED: y") {
		t.Error("expected markers to be found")
	}
	if HasMarker("Hi! I'm Ava") {
		t.Error("greeting has no marker")
	}
}
