package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
	gemini "google.golang.org/genai"
)

// contentGenerator is the subset of the Gemini models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

// GeminiClient generates responses with Google Gemini.
type GeminiClient struct {
	models      contentGenerator
	model       string
	temperature float64
	maxTokens   int
	debug       *debugLog
}

// NewGeminiClient creates a client. The key falls back to $GEMINI_API_KEY.
func NewGeminiClient(opts ...Option) (*GeminiClient, error) {
	cfg := applyOptions(opts)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	slog.Debug("GeminiClient.NewGeminiClient: options applied", "api_key_set", cfg.APIKey != "", "model", cfg.Model, "debug", cfg.DebugMode)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", models.ErrConfigurationMissing)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	clientConfig := &gemini.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: gemini.BackendGeminiAPI,
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	client, err := gemini.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		models:      client.Models,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debug:       newDebugLog(cfg),
	}, nil
}

func toContents(turns []models.Turn) []*gemini.Content {
	contents := make([]*gemini.Content, 0, len(turns))
	for _, turn := range turns {
		role := gemini.RoleUser
		if turn.Role != models.SenderUser {
			role = gemini.RoleModel
		}
		contents = append(contents, &gemini.Content{
			Role:  string(role),
			Parts: []*gemini.Part{{Text: turn.Text}},
		})
	}
	return contents
}

// Generate sends the context as contents with the instruction as system instruction.
func (c *GeminiClient) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	config := &gemini.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = gemini.NewContentFromText(req.SystemInstruction, gemini.RoleUser)
	}
	temp := float32(c.temperature)
	config.Temperature = &temp
	if c.maxTokens > 0 {
		config.MaxOutputTokens = int32(c.maxTokens)
	}

	contents := toContents(req.Context)
	slog.Debug("GeminiClient.Generate: sending request", "model", c.model, "contents", len(contents))
	result, err := c.models.GenerateContent(ctx, c.model, contents, config)
	c.debug.write("Generate", c.model, req, result, err)
	if err != nil {
		slog.Error("GeminiClient.Generate: request failed", "model", c.model, "error", err)
		var apiErr gemini.APIError
		if errors.As(err, &apiErr) {
			return "", &models.LanguageServiceError{StatusCode: apiErr.Code, Message: apiErr.Error(), Err: err}
		}
		return "", &models.LanguageServiceError{Message: err.Error(), Err: err}
	}
	if result == nil || len(result.Candidates) == 0 {
		return "", ErrNoChoicesReturned
	}

	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
		break
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", models.ErrEmptyGenerationResult
	}
	slog.Debug("GeminiClient.Generate: response received", "length", len(text))
	return text, nil
}
