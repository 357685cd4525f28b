package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"google.golang.org/genai"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/util"
)

// Gemini sampling settings beyond temperature.
const (
	geminiTopK = 40
	geminiTopP = 0.95
)

// contentGenerator is the slice of genai.Models the Gemini client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient generates interpretations through the Gemini API.
type GeminiClient struct {
	models      contentGenerator
	prompts     PromptRenderer
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
	debugDir    string
}

// NewGeminiClient initializes a Gemini-backed generator. The key comes from
// WithAPIKey or GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, prompts PromptRenderer, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(opts)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt renderer is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	slog.Debug("Gemini generator created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &GeminiClient{
		models:      client.Models,
		prompts:     prompts,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		debugDir:    cfg.DebugDir,
	}, nil
}

// Generate renders the prompt for data and asks Gemini for an interpretation.
func (g *GeminiClient) Generate(ctx context.Context, data models.PromptData) (string, error) {
	prompt, err := g.prompts.RenderPrompt(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	temp := g.temperature
	topK := float32(geminiTopK)
	topP := float32(geminiTopP)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopK:            &topK,
		TopP:            &topP,
		MaxOutputTokens: g.maxTokens,
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		err = classifyGeminiError(ctx, err)
		slog.Error("Gemini generation failed", "error", err, "model", g.model, "duration", time.Since(start))
		writeDebug(g.debugDir, "gemini", g.model, prompt, "", err)
		return "", err
	}

	out := ""
	if resp != nil {
		out = resp.Text()
	}
	if out == "" {
		writeDebug(g.debugDir, "gemini", g.model, prompt, "", ErrNoChoicesReturned)
		return "", ErrNoChoicesReturned
	}

	slog.Info("Gemini generation succeeded", "model", g.model, "duration", time.Since(start), "chars", len(out))
	writeDebug(g.debugDir, "gemini", g.model, prompt, out, nil)
	return util.TruncateText(out, MaxResultRunes), nil
}

func classifyGeminiError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrUpstreamQuota, err)
	}
	return fmt.Errorf("%w: %v", ErrService, err)
}
