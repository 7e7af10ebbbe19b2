package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/models"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return "llama3.1:8b"
	}
	return "gemini-1.5-flash"
}

// blockedStopReasons are the finish reasons the providers report when a
// reply was withheld: genai's FinishReason.String() for googleai and the
// finish_reason field for OpenAI-compatible endpoints.
var blockedStopReasons = map[string]bool{
	"FinishReasonSafety": true,
	"content_filter":     true,
}

// Completer produces the next assistant turn for a conversation. The last
// element of turns is the new prompt; earlier elements are history.
type Completer interface {
	Complete(ctx context.Context, turns []llms.MessageContent) (string, error)
}

type Settings struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// Client is a Completer backed by a langchaingo model.
type Client struct {
	llm    llms.Model
	logger *zap.Logger
}

var _ Completer = (*Client)(nil)

// New builds a Client for the configured provider. A missing API key is not
// an error here: the returned client fails every call with ErrNotConfigured,
// so conversations record the problem instead of the server refusing to start.
func New(ctx context.Context, s Settings, logger *zap.Logger) (*Client, error) {
	if s.Model == "" {
		s.Model = DefaultModel(s.Provider)
	}
	if s.APIKey == "" {
		logger.Warn("completion API key is not set, replies will report a configuration error",
			zap.String("provider", s.Provider))
		return &Client{logger: logger}, nil
	}

	var (
		model llms.Model
		err   error
	)
	switch s.Provider {
	case ProviderGoogleAI:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(s.APIKey),
			googleai.WithDefaultModel(s.Model),
		)
	case ProviderOpenAI:
		model, err = openai.New(
			openai.WithToken(s.APIKey),
			openai.WithBaseURL(s.BaseURL),
			openai.WithModel(s.Model),
		)
	default:
		return nil, errors.Errorf("unknown completion provider %q", s.Provider)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "initializing %s client", s.Provider)
	}

	logger.Info("completion client ready",
		zap.String("provider", s.Provider),
		zap.String("model", s.Model))
	return &Client{llm: model, logger: logger}, nil
}

// NewFromModel wraps an already constructed model.
func NewFromModel(model llms.Model, logger *zap.Logger) *Client {
	return &Client{llm: model, logger: logger}
}

func (c *Client) Complete(ctx context.Context, turns []llms.MessageContent) (string, error) {
	if c.llm == nil {
		return "", ErrNotConfigured
	}
	if len(turns) == 0 {
		return "", errors.New("no turns to complete")
	}

	resp, err := c.llm.GenerateContent(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	if blockedStopReasons[choice.StopReason] {
		return "", ErrBlocked
	}
	if strings.TrimSpace(choice.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return choice.Content, nil
}

// Turns converts stored messages, oldest first, into provider turns.
// Providers translate the ai role into their own "model" or "assistant".
func Turns(msgs []models.Message) []llms.MessageContent {
	turns := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		turns = append(turns, llms.TextParts(role, m.Content))
	}
	return turns
}
