package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-rag/internal/config"
	"document-rag/internal/models"
)

var thinkTagRe = regexp.MustCompile(models.ThinkTag)

// ErrEmptyResponse marks a model reply that carried no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Client synthesizes answers from a prompt through a langchaingo model.
type Client struct {
	model         llms.Model
	stripThinking bool
}

type Option func(*Client)

// WithStripThinking removes <think>...</think> sections that reasoning models
// emit before their answer.
func WithStripThinking(strip bool) Option {
	return func(c *Client) { c.stripThinking = strip }
}

func NewClient(model llms.Model, opts ...Option) *Client {
	c := &Client{model: model}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds the chat client for the configured provider.
func NewFromConfig(ctx context.Context, cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Interface("llmConfig", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating chat client")

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		model, err = NewGoogleAI(ctx, cfg.Key, cfg.Model, "")
	case config.ProviderOpenAI:
		model, err = NewOpenAI(cfg.Key, cfg.BaseURL, cfg.Model)
	case config.ProviderOllama:
		model, err = NewOllama(cfg.BaseURL, cfg.Model)
	default:
		err = fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(model, WithStripThinking(cfg.Provider == config.ProviderOllama)), nil
}

// Generate sends prompt as a single human message and returns the model text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate answer: %w", ErrEmptyResponse)
	}
	text := resp.Choices[0].Content
	if c.stripThinking {
		text = strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
	}
	return text, nil
}

// GenerateContent forwards a multi-message conversation to the model.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	return c.model.GenerateContent(ctx, messages, opts...)
}

// NewOpenAI creates an OpenAI-compatible client usable for both chat and
// embeddings. A "Bearer " prefix on the key is tolerated.
func NewOpenAI(apiKey, baseURL, model string) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(model),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}

func NewOllama(serverURL, model string) (*ollama.LLM, error) {
	return ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
}

// NewGoogleAI creates a Gemini client. Empty model names keep the library defaults.
func NewGoogleAI(ctx context.Context, apiKey, model, embeddingModel string) (*googleai.GoogleAI, error) {
	opts := []googleai.Option{googleai.WithAPIKey(apiKey)}
	if model != "" {
		opts = append(opts, googleai.WithDefaultModel(model))
	}
	if embeddingModel != "" {
		opts = append(opts, googleai.WithDefaultEmbeddingModel(embeddingModel))
	}
	return googleai.New(ctx, opts...)
}
