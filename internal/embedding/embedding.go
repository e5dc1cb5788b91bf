package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"document-rag/internal/config"
	"document-rag/internal/llmservice"
	"document-rag/internal/metrics"
)

// ErrEmptyVector marks a provider response that carried no vector.
var ErrEmptyVector = errors.New("provider returned an empty embedding")

// EmbedError wraps any failure of a single embedding call. The core never
// retries; callers decide.
type EmbedError struct {
	Cause error
}

func (e *EmbedError) Error() string { return "embed: " + e.Cause.Error() }

func (e *EmbedError) Unwrap() error { return e.Cause }

// Embedder gives every provider the same vector-producing contract. It holds
// no mutable state besides the optional limiter, so calls are independent and
// safe for concurrent use.
type Embedder struct {
	provider embeddings.Embedder
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

type Option func(*Embedder)

// WithRateLimit spaces provider calls to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Embedder) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Embedder) { e.metrics = m }
}

func New(provider embeddings.Embedder, opts ...Option) *Embedder {
	e := &Embedder{provider: provider}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns the provider's vector for text. Empty text is passed through
// unchanged.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &EmbedError{Cause: err}
		}
	}

	start := time.Now()
	vec, err := e.provider.EmbedQuery(ctx, text)
	if err == nil && len(vec) == 0 {
		err = ErrEmptyVector
	}
	e.metrics.ObserveEmbed(time.Since(start), err)
	if err != nil {
		return nil, &EmbedError{Cause: err}
	}

	log.Debug().Int("dimension", len(vec)).Int("chars", len(text)).Dur("took", time.Since(start)).Msg("Embedded text")
	return vec, nil
}

// NewProviderEmbedder builds the langchaingo embedder for the configured provider.
func NewProviderEmbedder(ctx context.Context, cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	switch cfg.Provider {
	case config.ProviderGoogleAI:
		return NewGoogleEmbedder(ctx, cfg)
	case config.ProviderOpenAI:
		return NewEmbedder(cfg.Key, cfg.BaseURL, cfg.Model)
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewEmbedder creates an OpenAI-compatible embedder. The key may carry a
// "Bearer " prefix.
func NewEmbedder(apiKey, baseURL, embeddingModel string) (*embeddings.EmbedderImpl, error) {
	llm, err := llmservice.NewOpenAI(apiKey, baseURL, embeddingModel)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := llmservice.NewOllama(cfg.BaseURL, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

func NewGoogleEmbedder(ctx context.Context, cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("googleai embedder: missing API key (set %s)", cfg.KeyEnv)
	}
	llm, err := llmservice.NewGoogleAI(ctx, cfg.Key, "", cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init googleai client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}
