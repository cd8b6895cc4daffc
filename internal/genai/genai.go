// Package genai wraps the OpenAI API for caloriebot.
//
// It exposes chat completion (text and vision), strict-JSON completions for
// classification, and Whisper transcription behind a small interface so the
// flow layer can be tested with fakes.
package genai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Model and request constants. The primary model is the cheap one; a single
// retry against the larger model covers primary timeouts.
const (
	PrimaryModel       = openai.ChatModelGPT4oMini
	FallbackModel      = openai.ChatModelGPT4o
	DefaultTimeout     = 12 * time.Second
	DefaultMaxTokens   = 700
	DefaultTemperature = 0.1
)

// Message is one conversational message in a completion request.
type Message struct {
	Role     string // "user" or "assistant"
	Text     string
	ImageURL string // optional data URI attached to a user message
}

// CompletionRequest describes a chat completion call.
type CompletionRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int64
	Temperature float64
	JSONMode    bool
}

// ClientInterface is the subset of the client the rest of the system uses.
type ClientInterface interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Timeout time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI SDK.
type Client struct {
	client  openai.Client
	timeout time.Duration
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		timeout: cfg.Timeout,
	}, nil
}

// Complete runs a chat completion against the primary model, retrying once
// against the fallback model on failure or timeout. The LLM is treated as a
// pure (if non-deterministic) function; any terminal error is recoverable
// upstream.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	text, err := c.complete(ctx, PrimaryModel, req)
	if err == nil {
		return text, nil
	}
	slog.Warn("genai.Complete: primary model failed, retrying with fallback", "error", err, "primary", PrimaryModel, "fallback", FallbackModel)
	text, retryErr := c.complete(ctx, FallbackModel, req)
	if retryErr != nil {
		return "", fmt.Errorf("completion failed on %s and %s: %w", PrimaryModel, FallbackModel, retryErr)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, model shared.ChatModel, req CompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	} else {
		params.MaxTokens = openai.Int(DefaultMaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	} else {
		params.Temperature = openai.Float(DefaultTemperature)
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	slog.Debug("genai.complete: completion succeeded", "model", model,
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(req CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch {
		case m.Role == "assistant":
			messages = append(messages, openai.AssistantMessage(m.Text))
		case m.ImageURL != "":
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: m.ImageURL}),
				openai.TextContentPart(m.Text),
			}
			messages = append(messages, openai.UserMessage(parts))
		default:
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}
	return messages
}

// Transcribe converts voice audio to text via Whisper.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Audio.Transcriptions.New(callCtx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(audio), "voice.ogg", contentType),
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	slog.Debug("genai.Transcribe: transcription succeeded", "bytes", len(audio), "text_length", len(resp.Text))
	return resp.Text, nil
}
