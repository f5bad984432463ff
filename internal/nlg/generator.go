// Package nlg wraps the text generation and speech synthesis services.
package nlg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// ErrEmptyCompletion is returned when the service answers without content.
var ErrEmptyCompletion = errors.New("empty completion")

// GeneratorConfig tunes the chat completion client.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	RateLimit   float64 // requests per second
}

// Generator produces text from a system and user prompt through an
// OpenAI-compatible chat completions endpoint.
type Generator struct {
	client      openai.Client
	model       openai.ChatModel
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("nlg API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client:      openai.NewClient(opts...),
		model:       openai.ChatModel(cfg.Model),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}, nil
}

// Generate returns the first choice's content.
func (g *Generator) Generate(ctx context.Context, system, user string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
