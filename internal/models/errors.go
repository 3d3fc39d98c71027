package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the capture pipeline and the orchestrator.
var (
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrUnsupportedCapability = errors.New("speech recognition not supported")
	ErrNetworkFailure        = errors.New("network failure during speech recognition")
	ErrNoSpeechDetected      = errors.New("no speech detected")
	ErrAudioCaptureFailure   = errors.New("audio capture failure")
	ErrUnclassifiedCapture   = errors.New("speech recognition failed")
	ErrCaptureStart          = errors.New("could not start speech recognition")

	ErrLanguageService       = errors.New("language service error")
	ErrEmptyGenerationResult = errors.New("language service returned no text")
	ErrPersistence           = errors.New("persistence failure")
	ErrConfigurationMissing  = errors.New("language service API key is not configured")

	ErrEmptyInput        = errors.New("input text is empty")
	ErrBusy              = errors.New("a response is already pending")
	ErrUnknownFeature    = errors.New("unknown feature")
	ErrMistakeNotFound   = errors.New("mistake not found")
	ErrAlreadyCapturing  = errors.New("speech capture already active")
	ErrCaptureNotRunning = errors.New("speech capture not active")
)

// LanguageServiceError carries the upstream status of a failed generation call.
type LanguageServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *LanguageServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("language service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("language service error: %s", e.Message)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *LanguageServiceError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrLanguageService, e.Err}
	}
	return []error{ErrLanguageService}
}
