package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"document-rag/internal/chromemdb"
	"document-rag/internal/config"
	"document-rag/internal/db"
	"document-rag/internal/embedding"
	"document-rag/internal/llmservice"
	"document-rag/internal/metrics"
	"document-rag/internal/rag"
	"document-rag/internal/vectorstore"
)

const collectionName = "documents"

type pipeline struct {
	store    *vectorstore.Store
	ingestor *rag.Ingestor
	querier  *rag.Querier
	metrics  *metrics.Metrics
	// index is set when the chromem retriever is selected or an export was requested.
	index *chromemdb.Index
}

func buildPipeline(ctx context.Context, cfg *config.Config, withIndex bool) (*pipeline, error) {
	m := metrics.New()
	store := vectorstore.NewStore()

	provider, err := embedding.NewProviderEmbedder(ctx, &cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	embedder := embedding.New(provider,
		embedding.WithRateLimit(cfg.RAG.RateLimit, cfg.RAG.Burst),
		embedding.WithMetrics(m),
	)

	generator, err := llmservice.NewFromConfig(ctx, &cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}

	policy, err := rag.ParseFailurePolicy(cfg.RAG.OnFailure)
	if err != nil {
		return nil, err
	}

	p := &pipeline{store: store, metrics: m}
	var retriever rag.Retriever = vectorstore.NewScanner(store)
	if cfg.RAG.Retriever == config.RetrieverChromem || withIndex {
		p.index, err = chromemdb.NewIndex(store, collectionName)
		if err != nil {
			return nil, err
		}
	}
	if cfg.RAG.Retriever == config.RetrieverChromem {
		retriever = p.index
	}

	p.ingestor = rag.NewIngestor(store, embedder, rag.IngestOptions{
		ChunkWords:      cfg.RAG.ChunkWords,
		Workers:         cfg.RAG.Workers,
		OnFailure:       policy,
		ReplaceOnIngest: cfg.RAG.Replace(),
		Metrics:         m,
	})
	p.querier = rag.NewQuerier(embedder, retriever, generator, cfg.RAG.TopN, m)

	log.Info().
		Str("embed_provider", cfg.EmbedLLM.Provider).
		Str("embed_model", cfg.EmbedLLM.Model).
		Str("chat_provider", cfg.ChatLLM.Provider).
		Str("chat_model", cfg.ChatLLM.Model).
		Str("retriever", cfg.RAG.Retriever).
		Str("on_failure", policy.String()).
		Int("workers", cfg.RAG.Workers).
		Msg("Pipeline ready")
	return p, nil
}

// openLedger returns nil when no database is configured.
func openLedger(ctx context.Context, cfg *config.DatabaseConfig) (*db.Ledger, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	sqldb, err := db.ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	bunDB := db.NewDB(sqldb, cfg.Debug)
	if err := db.InitDB(ctx, bunDB); err != nil {
		_ = bunDB.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("Run ledger enabled")
	return db.NewLedger(bunDB), nil
}
