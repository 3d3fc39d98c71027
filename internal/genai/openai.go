package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService is the subset of the OpenAI chat completion service used here.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient generates responses with OpenAI chat completions.
type OpenAIClient struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debug       *debugLog
}

// NewOpenAIClient creates a client. The key falls back to $OPENAI_API_KEY.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := applyOptions(opts)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	slog.Debug("OpenAIClient.NewOpenAIClient: options applied", "api_key_set", cfg.APIKey != "", "model", cfg.Model, "debug", cfg.DebugMode)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", models.ErrConfigurationMissing)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAIClient{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debug:       newDebugLog(cfg),
	}, nil
}

// Generate sends the instruction as a system message followed by the context turns.
func (c *OpenAIClient) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}
	for _, turn := range req.Context {
		if turn.Role == models.SenderUser {
			messages = append(messages, openai.UserMessage(turn.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	slog.Debug("OpenAIClient.Generate: sending request", "model", c.model, "messages", len(messages))
	resp, err := c.chat.New(ctx, params)
	c.debug.write("Generate", c.model, req, resp, err)
	if err != nil {
		slog.Error("OpenAIClient.Generate: request failed", "model", c.model, "error", err)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &models.LanguageServiceError{StatusCode: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
		}
		return "", &models.LanguageServiceError{Message: err.Error(), Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", models.ErrEmptyGenerationResult
	}
	slog.Debug("OpenAIClient.Generate: response received", "length", len(text))
	return text, nil
}
