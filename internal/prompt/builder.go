// Package prompt assembles the system instruction and conversation context for each
// tutoring turn.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// DefaultHistoryWindow is how many recent turns are rendered into the instruction.
const DefaultHistoryWindow = 10

// RetryDirective is appended when the learner is retrying after a correction.
const RetryDirective = "NOTE: This is a retry attempt after a mistake correction. Be encouraging about their improvement."

const continuationGuidelines = `CONTINUATION GUIDELINES:
- Reference previous topics and discussions naturally
- Build upon concepts already covered in this conversation
- Maintain consistency with your previous responses and teaching approach
- Acknowledge the student's learning progress and patterns
- Continue the natural flow of the conversation
- If the student asks about something discussed before, reference that context`

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryWindow overrides how many turns are rendered into the instruction.
func WithHistoryWindow(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.window = n
		}
	}
}

// Builder produces language-service requests.
type Builder struct {
	window int
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{window: DefaultHistoryWindow}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the request for one submission. history is the persisted transcript
// for (user, feature) in creation order; it normally already ends with the current
// user turn, which is appended when missing.
func (b *Builder) Build(feature models.Feature, history []models.Turn, current string, retry bool) models.GenerationRequest {
	full := make([]models.Turn, 0, len(history)+1)
	full = append(full, history...)
	if n := len(full); n == 0 || full[n-1].Role != models.SenderUser || full[n-1].Text != current {
		full = append(full, models.Turn{Role: models.SenderUser, Text: current})
	}

	instruction := Instruction(feature)
	req := models.GenerationRequest{}
	if len(full) > 1 {
		req.SystemInstruction = b.withHistory(instruction, full, current, retry)
		req.Context = full
	} else {
		if retry {
			instruction += "\n\n" + RetryDirective
		}
		req.SystemInstruction = instruction
		req.Context = []models.Turn{{Role: models.SenderUser, Text: current}}
	}
	slog.Debug("Builder.Build: request assembled", "feature", feature, "context_turns", len(req.Context), "retry", retry)
	return req
}

func (b *Builder) withHistory(instruction string, full []models.Turn, current string, retry bool) string {
	recent := full
	if len(recent) > b.window {
		recent = recent[len(recent)-b.window:]
	}
	lines := make([]string, 0, len(recent))
	for _, t := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", speakerLabel(t.Role), t.Text))
	}

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nCONVERSATION CONTEXT:\nThis is an ongoing conversation. Here's the recent chat history:\n\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(continuationGuidelines)
	sb.WriteString("\n\n")
	if retry {
		sb.WriteString(RetryDirective)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Current student input: \"%s\"\n\n", current)
	sb.WriteString("Respond as Ava, continuing this educational conversation naturally while incorporating the context above.")
	return sb.String()
}

func speakerLabel(role models.Sender) string {
	if role == models.SenderUser {
		return "Student"
	}
	return "Tutor"
}
