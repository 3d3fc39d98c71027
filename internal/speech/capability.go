// Package speech drives one continuous speech-recognition session per capture and
// decides, by silence endpointing, when the learner has finished speaking.
//
// The recognizer itself lives outside this process (a browser or another host);
// this package only consumes its event stream through the Capability port.
package speech

import (
	"context"
	"fmt"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/transcript"
)

// DefaultLocale is the only recognition locale used by the tutor.
const DefaultLocale = "en-US"

// Options configures one recognition session on the host.
type Options struct {
	Locale          string   `json:"lang"`
	Continuous      bool     `json:"continuous"`
	InterimResults  bool     `json:"interimResults"`
	MaxAlternatives int      `json:"maxAlternatives"`
	Hints           []string `json:"hints,omitempty"`
	Grammar         string   `json:"grammar,omitempty"`
}

// DefaultOptions returns single-utterance options with interim results and three alternatives.
func DefaultOptions() Options {
	return Options{
		Locale:          DefaultLocale,
		Continuous:      false,
		InterimResults:  true,
		MaxAlternatives: 3,
	}
}

// EventKind enumerates recognition events.
type EventKind int

const (
	EventStart EventKind = iota
	EventResult
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ErrorKind is the recognizer-reported error code.
type ErrorKind string

const (
	ErrorNetwork           ErrorKind = "network"
	ErrorNotAllowed        ErrorKind = "not-allowed"
	ErrorServiceNotAllowed ErrorKind = "service-not-allowed"
	ErrorNoSpeech          ErrorKind = "no-speech"
	ErrorAudioCapture      ErrorKind = "audio-capture"
)

// Err maps a recognizer error code onto the shared error taxonomy.
func (k ErrorKind) Err() error {
	switch k {
	case ErrorNetwork:
		return models.ErrNetworkFailure
	case ErrorNotAllowed, ErrorServiceNotAllowed:
		return models.ErrPermissionDenied
	case ErrorNoSpeech:
		return models.ErrNoSpeechDetected
	case ErrorAudioCapture:
		return models.ErrAudioCaptureFailure
	default:
		return fmt.Errorf("%w: %s", models.ErrUnclassifiedCapture, string(k))
	}
}

// Event is one notification from the host recognizer.
type Event struct {
	Kind    EventKind
	Results []transcript.Result // EventResult only
	Error   ErrorKind           // EventError only
}

// Recognition is one running recognition session on the host.
type Recognition interface {
	// Events delivers recognizer events. The channel may be closed after EventEnd.
	Events() <-chan Event
	// Stop asks the recognizer to finish and deliver any pending finals followed by EventEnd.
	Stop() error
	// Abort discards the session without waiting for pending results.
	Abort() error
}

// Capability opens recognition sessions. Implementations return
// models.ErrUnsupportedCapability when the host offers no recognizer.
type Capability interface {
	Open(ctx context.Context, opts Options) (Recognition, error)
}

// PermissionGate acquires microphone access. It returns models.ErrPermissionDenied when refused.
type PermissionGate interface {
	Request(ctx context.Context) error
}
