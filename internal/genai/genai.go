// Package genai answers free-form customer questions with the OpenAI API when
// no keyword or flow matches.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned is returned when the API answers without choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// Defaults for the fallback responder.
const (
	DefaultModel               = string(openai.ChatModelGPT4oMini)
	DefaultTemperature         = 0.2
	DefaultMaxCompletionTokens = 300
	// MaxReplyLength caps replies sent back over WhatsApp.
	MaxReplyLength = 1500
)

// DefaultSystemPrompt keeps the model on helpdesk topics and pointed at the menu.
const DefaultSystemPrompt = `Anda adalah asisten layanan pelanggan sebuah penyedia internet rumahan di Indonesia.
Jawab singkat, sopan, dan dalam Bahasa Indonesia. Anda tidak dapat mengubah pengaturan router,
membuat tiket, atau memproses pembayaran secara langsung. Untuk hal tersebut arahkan pelanggan
mengetik *menu*. Jangan pernah meminta password atau data rahasia. Jika tidak yakin, sarankan
pelanggan menghubungi CS.`

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK's ChatCompletionService to chatService.
type completions struct {
	svc openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	SystemPrompt        string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key. OPENAI_API_KEY is used when empty.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the length of generated answers.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithSystemPrompt replaces the helpdesk system prompt.
func WithSystemPrompt(p string) Option {
	return func(o *Opts) { o.SystemPrompt = p }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	systemPrompt        string
}

// NewClient creates a Client. It fails when no API key is configured.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		SystemPrompt:        DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	slog.Debug("genai.NewClient", "model", cfg.Model, "max_tokens", cfg.MaxCompletionTokens)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:                completions{svc: cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		systemPrompt:        cfg.SystemPrompt,
	}, nil
}

// GeneratePrompt returns the model's answer to userPrompt under systemPrompt.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Respond answers a customer's free text with the helpdesk system prompt.
func (c *Client) Respond(ctx context.Context, userID, text string) (string, error) {
	out, err := c.GeneratePrompt(ctx, c.systemPrompt, text)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrNoChoicesReturned
	}
	if r := []rune(out); len(r) > MaxReplyLength {
		out = string(r[:MaxReplyLength-1]) + "…"
	}
	slog.Debug("Client.Respond: answered", "user_id", userID, "reply_length", len(out))
	return out, nil
}
