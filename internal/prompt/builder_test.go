package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

func turns(n int) []models.Turn {
	out := make([]models.Turn, 0, n)
	for i := 0; i < n; i++ {
		role := models.SenderUser
		if i%2 == 1 {
			role = models.SenderTutor
		}
		out = append(out, models.Turn{Role: role, Text: fmt.Sprintf("turn %02d", i)})
	}
	return out
}

func TestBuildFirstTurnSendsOnlyCurrent(t *testing.T) {
	b := NewBuilder()
	req := b.Build(models.FeatureFreeTalk, []models.Turn{{Role: models.SenderUser, Text: "Hello"}}, "Hello", false)
	if req.SystemInstruction != Instruction(models.FeatureFreeTalk) {
		t.Error("first turn should use the bare feature instruction")
	}
	if len(req.Context) != 1 || req.Context[0].Text != "Hello" || req.Context[0].Role != models.SenderUser {
		t.Errorf("Context = %+v", req.Context)
	}
	if strings.Contains(req.SystemInstruction, "CONVERSATION CONTEXT") {
		t.Error("first turn should not carry history")
	}
}

func TestBuildAppendsMissingCurrentTurn(t *testing.T) {
	req := NewBuilder().Build(models.FeatureGrammar, nil, "Is this right?", false)
	if len(req.Context) != 1 || req.Context[0].Text != "Is this right?" {
		t.Errorf("Context = %+v", req.Context)
	}
}

func TestBuildWithHistoryRendersWindow(t *testing.T) {
	history := append(turns(13), models.Turn{Role: models.SenderUser, Text: "current text"})
	req := NewBuilder().Build(models.FeatureVocabulary, history, "current text", false)

	if len(req.Context) != len(history) {
		t.Fatalf("full history should be passed as context: got %d want %d", len(req.Context), len(history))
	}
	si := req.SystemInstruction
	if !strings.HasPrefix(si, Instruction(models.FeatureVocabulary)) {
		t.Error("instruction should start with the feature template")
	}
	for _, want := range []string{"CONVERSATION CONTEXT:", "CONTINUATION GUIDELINES:", "Reference previous topics", "Maintain consistency", `Current student input: "current text"`} {
		if !strings.Contains(si, want) {
			t.Errorf("instruction missing %q", want)
		}
	}
	if strings.Contains(si, "turn 03") {
		t.Error("turns older than the window should not be rendered")
	}
	if !strings.Contains(si, "Tutor: turn 05") || !strings.Contains(si, "Student: turn 12") {
		t.Error("window should include the last 10 turns with speaker labels")
	}
	if strings.Index(si, "turn 04") > strings.Index(si, "turn 12") {
		t.Error("window should be rendered oldest first")
	}
	if strings.Contains(si, RetryDirective) {
		t.Error("non-retry turn should not carry the retry directive")
	}
}

func TestBuildRetryDirective(t *testing.T) {
	b := NewBuilder()
	withHistory := b.Build(models.FeatureFreeTalk, turns(3), "I went to the park", true)
	if !strings.Contains(withHistory.SystemInstruction, RetryDirective) {
		t.Error("retry with history should carry the directive")
	}
	first := b.Build(models.FeatureFreeTalk, nil, "I went to the park", true)
	if !strings.HasSuffix(first.SystemInstruction, RetryDirective) {
		t.Error("retry without history should carry the directive")
	}
}

func TestTemplatesShareProtocol(t *testing.T) {
	for _, f := range models.Features {
		inst := Instruction(f)
		for _, want := range []string{"MISTAKE_DETECTED:", "NO_MISTAKE:", "RUSSIAN_EXPLANATION:", "You are Ava"} {
			if !strings.Contains(inst, want) {
				t.Errorf("%s template missing %q", f, want)
			}
		}
	}
	if Instruction("unknown") != Instruction(models.FeatureFreeTalk) {
		t.Error("unknown feature should fall back to freeTalk")
	}
}

func TestWithHistoryWindow(t *testing.T) {
	req := NewBuilder(WithHistoryWindow(2)).Build(models.FeatureFreeTalk, turns(4), "x", false)
	if strings.Contains(req.SystemInstruction, "turn 01") {
		t.Error("window of 2 should drop turn 01")
	}
}

func TestCorrectivePhrase(t *testing.T) {
	if got := CorrectivePhrase("I go to park yesterday", "I went to the park yesterday"); got != "You mean" {
		t.Errorf("got %q", got)
	}
	if got := CorrectivePhrase("I go", "I went to the park yesterday"); got != "You should say" {
		t.Errorf("got %q", got)
	}
}

func TestFallbackExplanation(t *testing.T) {
	got := FallbackExplanation("I go", "I went", "Use past tense")
	for _, want := range []string{`Ваш текст: "I go"`, `Правильный вариант: "I went"`, "Use past tense"} {
		if !strings.Contains(got, want) {
			t.Errorf("fallback missing %q", want)
		}
	}
	p := DetailedExplanationPrompt("I go", "I went", "Use past tense")
	if !strings.Contains(p, `Original: "I go"`) || !strings.Contains(p, "Keep it concise but informative.") {
		t.Errorf("unexpected prompt %q", p)
	}
}

func TestCopy(t *testing.T) {
	if len(Catalog()) != 4 {
		t.Fatalf("Catalog = %+v", Catalog())
	}
	if InputPlaceholder(models.FeatureVocabulary, false) != "Type a word or ask for a new one..." {
		t.Error("unexpected vocabulary placeholder")
	}
	if InputPlaceholder(models.FeatureVocabulary, true) != RetryHint {
		t.Error("retry should switch placeholder")
	}
	if ErrorNotice(fmt.Errorf("boom")) != "Error: boom" {
		t.Error("unexpected notice format")
	}
}
