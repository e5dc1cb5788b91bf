// Package rag wires extraction, chunking, embedding and the vector store into
// the ingestion and query pipelines.
package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"document-rag/internal/chunker"
	"document-rag/internal/metrics"
	"document-rag/internal/models"
	"document-rag/internal/parser"
	"document-rag/internal/vectorstore"
)

// VectorEmbedder turns text into a vector. *embedding.Embedder satisfies it.
type VectorEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FailurePolicy decides what happens to chunks already embedded when a run fails.
type FailurePolicy string

const (
	// Rollback stages the run's chunks and commits them only on success.
	Rollback FailurePolicy = "rollback"
	// Retain appends chunks as they complete, so a failed run leaves the
	// contiguous successful prefix in the store.
	Retain FailurePolicy = "retain"
)

type IngestOptions struct {
	ChunkWords int
	Workers    int
	OnFailure  FailurePolicy
	// ReplaceOnIngest makes each document replace the store contents instead of
	// accumulating next to earlier uploads.
	ReplaceOnIngest bool
	Metrics         *metrics.Metrics
}

// Ingestor runs one document at a time through extract, chunk, embed and store.
type Ingestor struct {
	store    *vectorstore.Store
	embedder VectorEmbedder
	opts     IngestOptions
	mu       sync.Mutex
}

func NewIngestor(store *vectorstore.Store, embedder VectorEmbedder, opts IngestOptions) *Ingestor {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = chunker.DefaultMaxWords
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.OnFailure == "" {
		opts.OnFailure = Rollback
	}
	return &Ingestor{store: store, embedder: embedder, opts: opts}
}

type embedJob struct {
	seq   int
	page  int
	chunk int
	text  string
}

type embedResult struct {
	embedJob
	vector []float32
}

// Ingest processes every page of data. Embedding calls run on a bounded worker
// pool; a single writer stores results in page order, chunk order. A failure
// cancels the work queued behind it and fails the run; under Retain the chunks
// ahead of it are still stored.
func (in *Ingestor) Ingest(ctx context.Context, extractor parser.Extractor, data []byte) (*models.IngestResult, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	start := time.Now()
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()
	logger.Debug().Str("stage", string(StageStarted)).Int("bytes", len(data)).Msg("Ingestion started")

	res := &models.IngestResult{RunID: runID}
	err := in.run(ctx, extractor, data, res)
	res.ChunksStored = in.store.Len()
	res.Duration = time.Since(start)
	in.opts.Metrics.ObserveIngest(res.Duration, res.PagesSkipped, res.ChunksStored, err)

	if err != nil {
		logger.Error().Err(err).Str("stage", string(StageFailed)).
			Int("chunks_stored", res.ChunksStored).Msg("Ingestion failed")
		return nil, err
	}
	logger.Info().Str("stage", string(StageCompleted)).
		Int("total_pages", res.TotalPages).
		Int("pages_skipped", res.PagesSkipped).
		Int("chunks_added", res.ChunksAdded).
		Int("chunks_stored", res.ChunksStored).
		Dur("took", res.Duration).
		Msg("Document processed")
	return res, nil
}

func (in *Ingestor) run(ctx context.Context, extractor parser.Extractor, data []byte, res *models.IngestResult) error {
	full, err := extractor.Extract(ctx, data, 1, parser.AllPages)
	if err != nil {
		return &StageError{Stage: StageExtractingPages, Err: err}
	}
	res.TotalPages = full.PageCount

	retain := in.opts.OnFailure == Retain
	if retain && in.opts.ReplaceOnIngest {
		in.store.Clear()
	}

	produceCtx, stopProducing := context.WithCancel(ctx)
	defer stopProducing()
	st := newRunState(stopProducing)

	var staged []models.Chunk
	var g errgroup.Group
	jobs := make(chan embedJob)
	results := make(chan embedResult)

	g.Go(func() error {
		defer close(jobs)
		in.produce(produceCtx, st, extractor, data, full.PageCount, jobs, res)
		return nil
	})

	var workers sync.WaitGroup
	for range in.opts.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			in.embedWorker(ctx, st, jobs, results)
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	// The writer drains results until every worker is done, so jobs ahead of
	// a failure always land. Only the contiguous run from seq 0 is committed.
	g.Go(func() error {
		pending := make(map[int]embedResult)
		next := 0
		for r := range results {
			pending[r.seq] = r
			for {
				ready, ok := pending[next]
				if !ok || st.failedAt(next) {
					break
				}
				delete(pending, next)
				next++

				chunk := models.Chunk{Text: ready.text, Embedding: ready.vector, PageNumber: ready.page}
				if !retain {
					staged = append(staged, chunk)
					continue
				}
				if err := in.store.Append(chunk); err != nil {
					st.fail(ready.seq, &StageError{Stage: StageStoring, Page: ready.page, Chunk: ready.chunk, Err: err})
					break
				}
				res.ChunksAdded++
			}
		}
		return nil
	})

	_ = g.Wait()
	if err := st.err(); err != nil {
		return err
	}
	if retain {
		return nil
	}

	if in.opts.ReplaceOnIngest {
		err = in.store.Replace(staged)
	} else {
		err = in.store.AppendBatch(staged)
	}
	if err != nil {
		return &StageError{Stage: StageStoring, Err: err}
	}
	res.ChunksAdded = len(staged)
	return nil
}

// produce extracts each page on its own so page numbers stay exact, skips blank
// pages and emits one job per chunk in page order. It stops once any job fails.
func (in *Ingestor) produce(ctx context.Context, st *runState, extractor parser.Extractor, data []byte, pageCount int, jobs chan<- embedJob, res *models.IngestResult) {
	seq := 0
	for page := 1; page <= pageCount; page++ {
		ext, err := extractor.Extract(ctx, data, page, page)
		if err != nil {
			st.fail(seq, &StageError{Stage: StageExtractingText, Page: page, Err: err})
			return
		}
		if strings.TrimSpace(ext.Text) == "" {
			res.PagesSkipped++
			log.Debug().Int("page", page).Msg("Skipping blank page")
			continue
		}

		chunks := chunker.Chunk(ext.Text, in.opts.ChunkWords)
		log.Debug().Int("page", page).Int("chunks", len(chunks)).Str("stage", string(StageChunking)).Msg("Chunked page")
		for i, text := range chunks {
			select {
			case jobs <- embedJob{seq: seq, page: page, chunk: i + 1, text: text}:
				seq++
			case <-ctx.Done():
				st.fail(seq, ctx.Err())
				return
			}
		}
	}
}

// embedWorker embeds jobs until the channel closes. Jobs behind a failure are
// skipped; jobs ahead of it run to completion.
func (in *Ingestor) embedWorker(ctx context.Context, st *runState, jobs <-chan embedJob, results chan<- embedResult) {
	for job := range jobs {
		jobCtx, ok := st.begin(ctx, job.seq)
		if !ok {
			continue
		}
		if err := jobCtx.Err(); err != nil {
			st.end(job.seq)
			st.fail(job.seq, err)
			continue
		}
		vec, err := in.embedder.Embed(jobCtx, job.text)
		st.end(job.seq)
		if err != nil {
			st.fail(job.seq, &StageError{Stage: StageEmbedding, Page: job.page, Chunk: job.chunk, Err: err})
			continue
		}
		results <- embedResult{embedJob: job, vector: vec}
	}
}

// runState tracks the earliest failing job of a run. Failing at seq k cancels
// in-flight jobs after k and stops the producer; jobs before k keep going.
type runState struct {
	mu       sync.Mutex
	failSeq  int
	failErr  error
	inflight map[int]context.CancelFunc
	stop     context.CancelFunc
}

func newRunState(stop context.CancelFunc) *runState {
	return &runState{failSeq: math.MaxInt, inflight: make(map[int]context.CancelFunc), stop: stop}
}

func (st *runState) begin(parent context.Context, seq int) (context.Context, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if seq > st.failSeq {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	st.inflight[seq] = cancel
	return ctx, true
}

func (st *runState) end(seq int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cancel, ok := st.inflight[seq]; ok {
		cancel()
		delete(st.inflight, seq)
	}
}

func (st *runState) fail(seq int, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if seq >= st.failSeq {
		return
	}
	st.failSeq, st.failErr = seq, err
	for s, cancel := range st.inflight {
		if s > seq {
			cancel()
		}
	}
	st.stop()
}

func (st *runState) failedAt(seq int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return seq >= st.failSeq
}

func (st *runState) err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.failErr
}

// String is used in CLI output.
func (p FailurePolicy) String() string { return string(p) }

// ParseFailurePolicy maps a config value onto a policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case Rollback, Retain:
		return FailurePolicy(s), nil
	case "":
		return Rollback, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}
