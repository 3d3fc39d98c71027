// Package messaging connects text chat channels to tutoring sessions.
//
// A Service delivers and receives plain text on one channel (WhatsApp through whatsmeow or
// Twilio). A Relay turns inbound messages into tutor turns and sends the replies back.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// Constants for channel-backed services
const (
	// DefaultChannelBufferSize defines the buffer size for the responses channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message may wait for buffer space
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted phone number
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns it as bare digits.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., subscribing to events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the responses channel.
	Stop() error

	// Responses returns a channel of inbound learner messages.
	Responses() <-chan models.Response
}

// canonicalizePhone strips every non-digit and requires at least MinPhoneDigits digits.
// Channel prefixes such as "whatsapp:" disappear with the rest of the punctuation.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("messaging.canonicalizePhone: recipient canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// emitResponse queues an inbound message, dropping it when the buffer stays full.
func emitResponse(ch chan<- models.Response, resp models.Response, source string) {
	select {
	case ch <- resp:
		slog.Debug(source+": inbound message queued", "from", resp.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(source+": responses channel blocked, dropping message", "from", resp.From, "timeout", DefaultChannelTimeout)
	}
}
