// Package genai provides the language-service clients used to generate tutor responses.
//
// Two backends are available: Google Gemini (the default) and OpenAI chat completions.
// Both accept the same provider-agnostic models.GenerationRequest.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Generation defaults.
const (
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

// ErrNoChoicesReturned is returned when the service answers without any candidate.
var ErrNoChoicesReturned = fmt.Errorf("%w: no choices returned", models.ErrEmptyGenerationResult)

// LanguageService generates one response for one request.
type LanguageService interface {
	Generate(ctx context.Context, req models.GenerationRequest) (string, error)
}

// Opts holds configuration shared by both backends.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
	HTTPClient  *http.Client
}

// Option defines a configuration option for the language-service clients.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebug writes every request and response as JSON under <stateDir>/debug.
func WithDebug(stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = true
		o.StateDir = stateDir
	}
}

// WithHTTPClient sets the HTTP client used by the Gemini backend.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// New builds the client for provider. An empty provider selects Gemini.
func New(provider string, opts ...Option) (LanguageService, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderGemini:
		c, err := NewGeminiClient(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		c, err := NewOpenAIClient(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown language service provider %q", provider)
	}
}

// Unconfigured is the LanguageService used when no API key is available. Every call
// fails with models.ErrConfigurationMissing.
type Unconfigured struct{}

// Generate always fails.
func (Unconfigured) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	slog.Debug("Unconfigured.Generate: no API key configured")
	return "", models.ErrConfigurationMissing
}
