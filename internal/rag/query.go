package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-rag/internal/metrics"
	"document-rag/internal/models"
	"document-rag/internal/vectorstore"
)

// Retriever ranks stored chunks against a query vector.
type Retriever interface {
	TopMatches(ctx context.Context, query []float32, n int) ([]models.ScoredChunk, error)
}

// Generator synthesizes free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	ModeCited  = "cited"
	ModeSimple = "simple"
	ModeSearch = "search"
)

// Querier answers questions from the current store contents.
type Querier struct {
	embedder  VectorEmbedder
	retriever Retriever
	generator Generator
	topN      int
	metrics   *metrics.Metrics
}

func NewQuerier(embedder VectorEmbedder, retriever Retriever, generator Generator, topN int, m *metrics.Metrics) *Querier {
	if topN <= 0 {
		topN = vectorstore.DefaultTopN
	}
	return &Querier{embedder: embedder, retriever: retriever, generator: generator, topN: topN, metrics: m}
}

// Ask answers query from page-tagged context and reports the pages cited. An
// empty store still reaches the generator, with an empty context.
func (q *Querier) Ask(ctx context.Context, query string) (*models.QueryResult, error) {
	return q.answer(ctx, ModeCited, query)
}

// AskSimple is Ask without page tags in the context or citation instructions
// in the prompt. The pages used are still reported.
func (q *Querier) AskSimple(ctx context.Context, query string) (*models.QueryResult, error) {
	return q.answer(ctx, ModeSimple, query)
}

// Search retrieves the top n matches without calling the generator.
func (q *Querier) Search(ctx context.Context, query string, n int) (*models.SearchResult, error) {
	start := time.Now()
	if n <= 0 {
		n = q.topN
	}
	matches, err := q.retrieve(ctx, query, n)
	q.metrics.ObserveQuery(ModeSearch, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &models.SearchResult{Matches: matches, PagesUsed: vectorstore.Citations(matches)}, nil
}

func (q *Querier) answer(ctx context.Context, mode, query string) (res *models.QueryResult, err error) {
	start := time.Now()
	defer func() { q.metrics.ObserveQuery(mode, time.Since(start), err) }()

	matches, err := q.retrieve(ctx, query, q.topN)
	if err != nil {
		return nil, err
	}

	cited := mode == ModeCited
	prompt := BuildPrompt(BuildContext(matches, cited), query, cited)
	answer, err := q.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, &StageError{Stage: StageGenerating, Err: err}
	}

	res = &models.QueryResult{
		Answer:              answer,
		PagesUsed:           vectorstore.Citations(matches),
		TotalRelevantChunks: len(matches),
	}
	log.Info().Str("mode", mode).Ints("pages_used", res.PagesUsed).
		Int("chunks", res.TotalRelevantChunks).Dur("took", time.Since(start)).Msg("Query answered")
	return res, nil
}

func (q *Querier) retrieve(ctx context.Context, query string, n int) ([]models.ScoredChunk, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &StageError{Stage: StageEmbeddingQuery, Err: err}
	}
	matches, err := q.retriever.TopMatches(ctx, vec, n)
	if err != nil {
		return nil, &StageError{Stage: StageRetrieving, Err: err}
	}
	return matches, nil
}

// BuildContext joins the matched chunk texts in rank order, separated by a
// blank line. With cited set, each text is prefixed with its page tag.
func BuildContext(matches []models.ScoredChunk, cited bool) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		if cited {
			parts[i] = fmt.Sprintf(models.PageTagFormat, m.Chunk.PageNumber, m.Chunk.Text)
		} else {
			parts[i] = m.Chunk.Text
		}
	}
	return strings.Join(parts, models.ContextSeparator)
}

// BuildPrompt fills the answer-only-from-context template.
func BuildPrompt(context, query string, cited bool) string {
	if cited {
		return fmt.Sprintf(models.CitedPromptTemplate, context, query)
	}
	return fmt.Sprintf(models.SimplePromptTemplate, context, query)
}
