package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-rag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. Routes:

  POST /upload        multipart field "pdf"
  POST /query         {"query": "..."}
  POST /simple-query  {"query": "..."}
  POST /search        {"query": "...", "topN": 3}
  GET  /stats, /runs, /health, /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, false)
	if err != nil {
		return err
	}
	ledger, err := openLedger(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer ledger.Close()

	srv, err := server.NewServer(server.Deps{
		Ingestor: p.ingestor,
		Querier:  p.querier,
		Store:    p.store,
		Ledger:   ledger,
		Metrics:  p.metrics,
	}, cfg.Server)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down")
		return err
	}
	return nil
}
