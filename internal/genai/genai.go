// Package genai turns a composed conversation turn into a structured sales
// decision using an OpenAI-compatible chat completion endpoint.
package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/vendaflow/vendaflow/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.ChatModelGPT4o

// ErrNoChoicesReturned indicates the API response contained no choices.
var ErrNoChoicesReturned = errors.New("no choices returned from completion API")

// HistoryMessage is one prior exchange reconstructed from stored turn events.
type HistoryMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// AudioAttachment is an inbound voice note forwarded to the engine as an
// audio input part alongside the composed turn text.
type AudioAttachment struct {
	Data   []byte // raw audio bytes, base64-encoded at request time
	Format string // "wav" or "mp3"
}

// DecisionRequest carries everything the engine needs for one turn.
type DecisionRequest struct {
	SystemPrompt string
	History      []HistoryMessage
	TurnContent  string
	Audio        *AudioAttachment
}

// ClientInterface defines the decision engine surface the turn processor
// depends on. Tests substitute a canned implementation.
type ClientInterface interface {
	Decide(ctx context.Context, req DecisionRequest) (*models.Decision, error)
}

// chatService abstracts the completion call for testing.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxAttempts int
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API endpoint. Used for compatible providers and tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithMaxAttempts sets how many times a turn is retried against the API.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// Client calls the completion API and parses strict-JSON decisions.
type Client struct {
	chat        chatService
	model       string
	maxAttempts int
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient creates a GenAI client from the given options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI API key not set")
		return nil, fmt.Errorf("API key not provided")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI.NewClient: client created", "model", model, "maxAttempts", maxAttempts)

	return &Client{
		chat:        &openaiChatService{client: cli},
		model:       model,
		maxAttempts: maxAttempts,
	}, nil
}

// Decide runs the chat completion for one composed turn and parses the
// structured decision. Transient failures are retried with exponential
// backoff; after the last attempt the error is returned so the caller can
// fall back.
func (c *Client) Decide(ctx context.Context, req DecisionRequest) (*models.Decision, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.SystemPrompt),
	}
	for _, h := range req.History {
		switch h.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(h.Content))
		default:
			messages = append(messages, openai.UserMessage(h.Content))
		}
	}
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		parts := []openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.TurnContent),
			openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
				Data:   base64.StdEncoding.EncodeToString(req.Audio.Data),
				Format: req.Audio.Format,
			}),
		}
		messages = append(messages, openai.UserMessage(parts))
	} else {
		messages = append(messages, openai.UserMessage(req.TurnContent))
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "sales_decision",
					Description: openai.String("Structured decision for the next reply in a sales chat"),
					Strict:      openai.Bool(true),
					Schema:      decisionSchema,
				},
			},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		decision, err := c.decideOnce(ctx, params)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		slog.Warn("GenAI.Decide attempt failed", "attempt", attempt, "error", err)
		if attempt < c.maxAttempts {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("decision failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) decideOnce(ctx context.Context, params openai.ChatCompletionNewParams) (*models.Decision, error) {
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content

	var decision models.Decision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return nil, fmt.Errorf("decode decision JSON: %w", err)
	}
	if err := decision.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision: %w", err)
	}
	return &decision, nil
}

// FallbackDecision is the canned decision used when the engine is
// unreachable: one apologetic line, no action, no state change.
func FallbackDecision(currentPhase string) *models.Decision {
	return &models.Decision{
		InternalThought:    "engine unavailable, holding the conversation",
		LeadClassification: "unknown",
		FunnelPhase:        currentPhase,
		Messages:           []string{"amor, minha internet ta horrivel hoje 😤 ja te respondo ta"},
		Action:             models.ActionNone,
	}
}
