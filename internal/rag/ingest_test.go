package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-rag/internal/chunker"
	"document-rag/internal/metrics"
	"document-rag/internal/models"
	"document-rag/internal/parser"
	"document-rag/internal/vectorstore"
)

// sentences builds n one-word-numbered sentences tagged with prefix.
func sentences(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s sentence number %d", prefix, i)
	}
	return strings.Join(parts, ". ")
}

func TestIngest_PageExactness(t *testing.T) {
	pages := []string{sentences("alpha", 12), sentences("beta", 12), sentences("gamma", 12)}
	ex := &pagedExtractor{pages: pages}
	store := vectorstore.NewStore()
	in := NewIngestor(store, &hashEmbedder{}, IngestOptions{ChunkWords: 10, Workers: 4})

	res, err := in.Ingest(context.Background(), ex, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, store.Len(), res.ChunksStored)
	assert.Equal(t, res.ChunksAdded, res.ChunksStored)
	assert.NotEmpty(t, res.RunID)

	prefixes := map[int]string{1: "alpha", 2: "beta", 3: "gamma"}
	for _, c := range store.All() {
		for _, s := range strings.Split(strings.TrimSuffix(c.Text, "."), ". ") {
			assert.True(t, strings.HasPrefix(s, prefixes[c.PageNumber]),
				"chunk on page %d holds %q", c.PageNumber, s)
		}
	}

	// one full-range call up front, then one call per page
	assert.Equal(t, [][2]int{{1, parser.AllPages}, {1, 1}, {2, 2}, {3, 3}}, ex.calls)
}

func TestIngest_StoresInPageAndChunkOrder(t *testing.T) {
	pages := []string{sentences("p1", 20), sentences("p2", 20), sentences("p3", 20)}
	store := vectorstore.NewStore()
	emb := &hashEmbedder{jitter: true}
	in := NewIngestor(store, emb, IngestOptions{ChunkWords: 8, Workers: 6, OnFailure: Retain})

	_, err := in.Ingest(context.Background(), &pagedExtractor{pages: pages}, nil)
	require.NoError(t, err)

	var want []models.Chunk
	for i, p := range pages {
		for _, text := range chunker.Chunk(p, 8) {
			want = append(want, models.Chunk{Text: text, PageNumber: i + 1, Embedding: vectorFor(text)})
		}
	}
	assert.Equal(t, want, store.All())
}

func TestIngest_SkipsBlankPages(t *testing.T) {
	pages := []string{"First page text", "   \n\t ", "Third page text"}
	store := vectorstore.NewStore()
	emb := &hashEmbedder{}
	in := NewIngestor(store, emb, IngestOptions{})

	res, err := in.Ingest(context.Background(), &pagedExtractor{pages: pages}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 1, res.PagesSkipped)
	assert.Equal(t, 2, res.ChunksStored)
	assert.Equal(t, 2, emb.Calls())
	for _, c := range store.All() {
		assert.NotEqual(t, 2, c.PageNumber)
	}
}

func TestIngest_EmptyDocument(t *testing.T) {
	store := vectorstore.NewStore()
	res, err := NewIngestor(store, &hashEmbedder{}, IngestOptions{}).
		Ingest(context.Background(), &pagedExtractor{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalPages)
	assert.Equal(t, 0, res.ChunksStored)
}

// tenChunkPage yields exactly ten chunks at a bound of 3 words.
func tenChunkPage() string {
	parts := make([]string, 10)
	for i := range parts {
		parts[i] = fmt.Sprintf("one two three four %d", i)
	}
	return strings.Join(parts, ". ")
}

func TestIngest_FailFastRetainKeepsPrefix(t *testing.T) {
	require.Len(t, chunker.Chunk(tenChunkPage(), 3), 10)

	store := vectorstore.NewStore()
	emb := &hashEmbedder{failOn: 4}
	in := NewIngestor(store, emb, IngestOptions{ChunkWords: 3, Workers: 1, OnFailure: Retain})

	res, err := in.Ingest(context.Background(), &pagedExtractor{pages: []string{tenChunkPage()}}, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errProvider)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEmbedding, stageErr.Stage)
	assert.Equal(t, 1, stageErr.Page)
	assert.Equal(t, 4, stageErr.Chunk)

	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 4, emb.Calls(), "no embedding after the failure")
}

func TestIngest_RetainKeepsSlowChunksAheadOfFailure(t *testing.T) {
	chunks := chunker.Chunk(tenChunkPage(), 3)
	require.Len(t, chunks, 10)

	emb := &scriptedEmbedder{
		delay: map[string]time.Duration{chunks[0]: 30 * time.Millisecond, chunks[1]: 30 * time.Millisecond, chunks[2]: 30 * time.Millisecond},
		fail:  map[string]time.Duration{chunks[3]: 0},
	}
	for _, c := range chunks[4:] {
		emb.delay[c] = time.Second
	}

	for run := 0; run < 5; run++ {
		store := vectorstore.NewStore()
		in := NewIngestor(store, emb, IngestOptions{ChunkWords: 3, Workers: 4, OnFailure: Retain})

		start := time.Now()
		_, err := in.Ingest(context.Background(), &pagedExtractor{pages: []string{tenChunkPage()}}, nil)
		require.ErrorIs(t, err, errProvider)

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, 4, stageErr.Chunk)

		stored := store.All()
		require.Len(t, stored, 3, "run %d", run)
		for i, c := range stored {
			assert.Equal(t, chunks[i], c.Text)
		}
		assert.Less(t, time.Since(start), 900*time.Millisecond, "chunks behind the failure are cancelled")
	}
}

func TestIngest_EarliestFailureWins(t *testing.T) {
	chunks := chunker.Chunk(tenChunkPage(), 3)
	emb := &scriptedEmbedder{
		delay: map[string]time.Duration{},
		// chunk 2 fails after chunk 4 has already failed
		fail: map[string]time.Duration{chunks[1]: 20 * time.Millisecond, chunks[3]: 0},
	}

	store := vectorstore.NewStore()
	in := NewIngestor(store, emb, IngestOptions{ChunkWords: 3, Workers: 4, OnFailure: Retain})
	_, err := in.Ingest(context.Background(), &pagedExtractor{pages: []string{tenChunkPage()}}, nil)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 2, stageErr.Chunk)
	assert.Equal(t, []models.Chunk{{Text: chunks[0], PageNumber: 1, Embedding: vectorFor(chunks[0])}}, store.All())
}

func TestIngest_FailFastRollbackLeavesStoreUntouched(t *testing.T) {
	store := vectorstore.NewStore()
	previous := models.Chunk{Text: "earlier document", PageNumber: 1, Embedding: vectorFor("earlier document")}
	require.NoError(t, store.Append(previous))

	in := NewIngestor(store, &hashEmbedder{failOn: 4}, IngestOptions{
		ChunkWords: 3, Workers: 3, OnFailure: Rollback, ReplaceOnIngest: true,
	})
	_, err := in.Ingest(context.Background(), &pagedExtractor{pages: []string{tenChunkPage()}}, nil)
	require.ErrorIs(t, err, errProvider)

	assert.Equal(t, []models.Chunk{previous}, store.All())
}

func TestIngest_ReplaceVersusAccumulate(t *testing.T) {
	doc := &pagedExtractor{pages: []string{"Some page text"}}

	accumulate := vectorstore.NewStore()
	in := NewIngestor(accumulate, &hashEmbedder{}, IngestOptions{})
	_, err := in.Ingest(context.Background(), doc, nil)
	require.NoError(t, err)
	res, err := in.Ingest(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksAdded)
	assert.Equal(t, 2, res.ChunksStored, "duplicates accumulate without replace")

	for _, policy := range []FailurePolicy{Rollback, Retain} {
		replace := vectorstore.NewStore()
		in := NewIngestor(replace, &hashEmbedder{}, IngestOptions{ReplaceOnIngest: true, OnFailure: policy})
		_, err := in.Ingest(context.Background(), doc, nil)
		require.NoError(t, err)
		res, err := in.Ingest(context.Background(), doc, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChunksStored, "policy %s", policy)
	}
}

func TestIngest_ExtractionFailures(t *testing.T) {
	cause := errors.New("not a pdf")
	_, err := NewIngestor(vectorstore.NewStore(), &hashEmbedder{}, IngestOptions{}).
		Ingest(context.Background(), &pagedExtractor{err: cause}, nil)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageExtractingPages, stageErr.Stage)
	assert.ErrorIs(t, err, cause)

	store := vectorstore.NewStore()
	_, err = NewIngestor(store, &hashEmbedder{}, IngestOptions{}).
		Ingest(context.Background(), &pagedExtractor{pages: []string{"a b", "c d", "e f"}, failPage: 2}, nil)
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageExtractingText, stageErr.Stage)
	assert.Equal(t, 2, stageErr.Page)
	var extErr *parser.ExtractionError
	assert.ErrorAs(t, err, &extErr)
	assert.Equal(t, 0, store.Len())
}

func TestIngest_DimensionChangeIsFatal(t *testing.T) {
	store := vectorstore.NewStore()
	require.NoError(t, store.Append(models.Chunk{Text: "x", PageNumber: 1, Embedding: []float32{1, 2}}))

	in := NewIngestor(store, &hashEmbedder{}, IngestOptions{OnFailure: Retain})
	_, err := in.Ingest(context.Background(), &pagedExtractor{pages: []string{"new model text"}}, nil)
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageStoring, stageErr.Stage)
	assert.Equal(t, 1, store.Len())
}

func TestIngest_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := vectorstore.NewStore()
	_, err := NewIngestor(store, &hashEmbedder{}, IngestOptions{Workers: 2}).
		Ingest(ctx, &pagedExtractor{pages: []string{sentences("a", 50)}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len())
}

func TestIngest_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	store := vectorstore.NewStore()
	in := NewIngestor(store, &hashEmbedder{}, IngestOptions{Metrics: m})
	_, err := in.Ingest(context.Background(), &pagedExtractor{pages: []string{"one", ""}}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRuns.WithLabelValues(metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksStored))
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("retain")
	require.NoError(t, err)
	assert.Equal(t, Retain, p)

	p, err = ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Rollback, p)

	_, err = ParseFailurePolicy("best-effort")
	assert.Error(t, err)
}
