package tutor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/speech"
)

// StartCapture begins voice input for the active feature. A recognized utterance is
// submitted like typed text and the reply is spoken. Capture failures become notices.
func (s *Session) StartCapture(ctx context.Context) error {
	s.mu.Lock()
	capture := s.deps.Capture
	feature := s.feature
	s.mu.Unlock()

	if capture == nil {
		s.appendNotice(prompt.NoticeUnsupported)
		return models.ErrUnsupportedCapability
	}
	outcomes, err := capture.Start(ctx, speech.OptionsForFeature(feature))
	if err != nil {
		if errors.Is(err, models.ErrAlreadyCapturing) {
			return err
		}
		slog.Warn("Session.StartCapture: capture did not start", "user_id", s.userID, "error", err)
		s.appendNotice(startNotice(err))
		return err
	}
	s.notify()

	go s.awaitUtterance(ctx, feature, outcomes)
	return nil
}

// StopCapture ends voice input early. Speech heard so far is still submitted.
func (s *Session) StopCapture() {
	s.mu.Lock()
	capture := s.deps.Capture
	s.mu.Unlock()
	if capture != nil {
		capture.Stop()
	}
}

func (s *Session) awaitUtterance(ctx context.Context, feature models.Feature, outcomes <-chan speech.Outcome) {
	out, ok := <-outcomes
	s.notify()
	if !ok {
		return
	}
	switch out.Kind {
	case speech.OutcomeUtterance:
		if s.Feature() != feature {
			slog.Debug("Session.awaitUtterance: feature changed during capture, dropping utterance", "user_id", s.userID)
			return
		}
		if out.LowConfidence {
			slog.Info("Session.awaitUtterance: submitting low confidence utterance", "user_id", s.userID)
		}
		if _, err := s.Submit(ctx, out.Text, SubmitOptions{AutoSpeak: true}); err != nil {
			slog.Warn("Session.awaitUtterance: submit failed", "user_id", s.userID, "error", err)
		}
	case speech.OutcomeError:
		s.appendNotice(captureNotice(out.Err))
	case speech.OutcomeNoUtterance:
		slog.Debug("Session.awaitUtterance: no utterance", "user_id", s.userID)
	}
}

// startNotice describes a failure to begin capture.
func startNotice(err error) string {
	switch {
	case errors.Is(err, models.ErrUnsupportedCapability):
		return prompt.NoticeUnsupported
	case errors.Is(err, models.ErrPermissionDenied):
		return prompt.NoticePermissionNeeded
	default:
		return prompt.NoticeStartFailure
	}
}

// captureNotice describes a failure reported while listening.
func captureNotice(err error) string {
	switch {
	case errors.Is(err, models.ErrNetworkFailure):
		return prompt.NoticeNetwork
	case errors.Is(err, models.ErrPermissionDenied):
		return prompt.NoticePermissionDenied
	case errors.Is(err, models.ErrAudioCaptureFailure):
		return prompt.NoticeAudioCapture
	case errors.Is(err, models.ErrCaptureStart):
		return prompt.NoticeStartFailure
	default:
		return prompt.NoticeUnclassified
	}
}
