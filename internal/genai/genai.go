// Package genai turns a finished dialogue into a dream interpretation using
// an LLM provider (OpenAI chat completions or Google Gemini).
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/util"
)

// Defaults shared by both providers.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	DefaultTimeout     = 30 * time.Second
	// MaxResultRunes bounds the interpretation before it reaches a transport.
	MaxResultRunes = 4000
)

var (
	// ErrService covers any provider failure that is not a timeout or a quota refusal.
	ErrService = errors.New("generation service error")
	// ErrTimeout is returned when the provider does not answer in time.
	ErrTimeout = errors.New("generation timed out")
	// ErrUpstreamQuota is returned when the provider rate limits us.
	ErrUpstreamQuota = errors.New("generation provider quota exceeded")
	// ErrNoChoicesReturned is returned when the provider answers with no text.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// Generator produces an interpretation for one dialogue.
type Generator interface {
	Generate(ctx context.Context, data models.PromptData) (string, error)
}

// PromptRenderer builds the provider prompt for a dialogue.
type PromptRenderer interface {
	RenderPrompt(data models.PromptData) (string, error)
}

// Opts configures a generator.
type Opts struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	DebugDir    string
}

// Option is a functional option for generators.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the OpenAI client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the output length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds a single generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDebugDir writes every request and response as JSON under dir/debug.
func WithDebugDir(dir string) Option {
	return func(o *Opts) { o.DebugDir = dir }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return cfg
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client generates interpretations through the OpenAI chat completions API.
type Client struct {
	chat        chatService
	prompts     PromptRenderer
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	debugDir    string
}

// NewClient initializes an OpenAI-backed generator. The key comes from
// WithAPIKey or OPENAI_API_KEY.
func NewClient(prompts PromptRenderer, opts ...Option) (*Client, error) {
	cfg := applyOpts(opts)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt renderer is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("OpenAI generator created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		prompts:     prompts,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		debugDir:    cfg.DebugDir,
	}, nil
}

// Generate renders the prompt for data and asks the model for an interpretation.
func (c *Client) Generate(ctx context.Context, data models.PromptData) (string, error) {
	prompt, err := c.prompts.RenderPrompt(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		err = classifyOpenAIError(ctx, err)
		slog.Error("OpenAI generation failed", "error", err, "model", c.model, "duration", time.Since(start))
		writeDebug(c.debugDir, "openai", c.model, prompt, "", err)
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		writeDebug(c.debugDir, "openai", c.model, prompt, "", ErrNoChoicesReturned)
		return "", ErrNoChoicesReturned
	}

	out := resp.Choices[0].Message.Content
	slog.Info("OpenAI generation succeeded", "model", c.model, "duration", time.Since(start), "chars", len(out))
	writeDebug(c.debugDir, "openai", c.model, prompt, out, nil)
	return util.TruncateText(out, MaxResultRunes), nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrUpstreamQuota, err)
	}
	return fmt.Errorf("%w: %v", ErrService, err)
}

type debugRecord struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// writeDebug stores one exchange under dir/debug. Failures are only logged.
func writeDebug(dir, provider, model, prompt, response string, genErr error) {
	if dir == "" {
		return
	}
	rec := debugRecord{Provider: provider, Model: model, Prompt: prompt, Response: response, Timestamp: time.Now().UTC()}
	if genErr != nil {
		rec.Error = genErr.Error()
	}
	debugDir := filepath.Join(dir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		slog.Warn("Failed to create genai debug directory", "dir", debugDir, "error", err)
		return
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Warn("Failed to encode genai debug record", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", provider, rec.Timestamp.UnixNano())
	if err := os.WriteFile(filepath.Join(debugDir, name), body, 0o644); err != nil {
		slog.Warn("Failed to write genai debug record", "file", name, "error", err)
	}
}

// Provider names accepted by NewGenerator.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewGenerator builds the generator for provider.
func NewGenerator(ctx context.Context, provider string, prompts PromptRenderer, opts ...Option) (Generator, error) {
	switch provider {
	case ProviderOpenAI:
		return NewClient(prompts, opts...)
	case ProviderGemini:
		return NewGeminiClient(ctx, prompts, opts...)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}
}
