package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-rag/internal/db"
	"document-rag/internal/helper"
	"document-rag/internal/models"
	"document-rag/internal/parser"
	"document-rag/internal/rag"
)

var (
	ingestQuery  string
	ingestSimple bool
	ingestTop    int
	ingestExport string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a document and optionally ask a question about it",
	Long: `Ingest a document into an in-memory store and optionally query it in the
same process.

Examples:
  # Ingest and print the run summary
  docrag ingest manual.pdf

  # Ask with page citations
  docrag ingest manual.pdf --query "How long do refunds take?"

  # Only retrieve the five best chunks
  docrag ingest manual.pdf --query "refunds" --top 5

  # Write an encrypted snapshot of the chunks
  docrag ingest manual.pdf --export ./exports/manual.gob.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestQuery, "query", "q", "", "question to answer after ingesting")
	ingestCmd.Flags().BoolVar(&ingestSimple, "simple", false, "answer without page tags in the prompt")
	ingestCmd.Flags().IntVar(&ingestTop, "top", 0, "only search, returning this many matches")
	ingestCmd.Flags().StringVar(&ingestExport, "export", "", "write an encrypted chromem snapshot to this path (default rag.export_path)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	file := args[0]

	extractor, err := parser.ForFile(file)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	exportPath := ingestExport
	if exportPath == "" {
		exportPath = cfg.RAG.ExportPath
	}

	p, err := buildPipeline(ctx, cfg, exportPath != "")
	if err != nil {
		return err
	}
	ledger, err := openLedger(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer ledger.Close()

	log.Info().Str("file", filepath.Base(file)).Int("bytes", len(data)).Msg("Ingesting document")
	res, err := ingestFile(ctx, p.ingestor, ledger, filepath.Base(file), extractor, data)
	if err != nil {
		return err
	}
	helper.PrettyPrint(res)

	if exportPath != "" {
		if err := helper.CreateParentFolder(exportPath); err != nil {
			return err
		}
		if err := p.index.Export(ctx, exportPath, cfg.RAG.EncryptionKey); err != nil {
			return err
		}
		log.Info().Str("file", exportPath).Int("chunks", p.index.Count()).Msg("Exported snapshot")
	}

	if ingestQuery == "" {
		return nil
	}
	if ingestTop > 0 {
		matches, err := p.querier.Search(ctx, ingestQuery, ingestTop)
		if err != nil {
			return err
		}
		helper.PrettyPrint(matches)
		return nil
	}
	mode := rag.ModeCited
	if ingestSimple {
		mode = rag.ModeSimple
	}
	answer, err := askQuestion(ctx, p.querier, ledger, mode, ingestQuery)
	if err != nil {
		return err
	}
	helper.PrettyPrint(answer)
	return nil
}

// history is the part of the run ledger the CLI writes to.
type history interface {
	RecordRun(ctx context.Context, run *db.IngestionRun) error
	RecordQuery(ctx context.Context, mode, question string, pages []int, chunks int, took time.Duration, err error) error
}

type documentIngestor interface {
	Ingest(ctx context.Context, extractor parser.Extractor, data []byte) (*models.IngestResult, error)
}

// ingestFile runs one ingestion and records its outcome, failed runs included.
func ingestFile(ctx context.Context, in documentIngestor, ledger history, filename string, extractor parser.Extractor, data []byte) (*models.IngestResult, error) {
	start := time.Now()
	res, err := in.Ingest(ctx, extractor, data)
	if lerr := ledger.RecordRun(ctx, db.NewIngestionRun("", filename, res, time.Since(start), err)); lerr != nil {
		log.Warn().Err(lerr).Msg("Error recording ingestion run")
	}
	return res, err
}

func askQuestion(ctx context.Context, q *rag.Querier, ledger history, mode, question string) (*models.QueryResult, error) {
	start := time.Now()
	var (
		res *models.QueryResult
		err error
	)
	if mode == rag.ModeSimple {
		res, err = q.AskSimple(ctx, question)
	} else {
		res, err = q.Ask(ctx, question)
	}

	var pages []int
	chunks := 0
	if res != nil {
		pages, chunks = res.PagesUsed, res.TotalRelevantChunks
	}
	if lerr := ledger.RecordQuery(ctx, mode, question, pages, chunks, time.Since(start), err); lerr != nil {
		log.Warn().Err(lerr).Msg("Error recording query")
	}
	return res, err
}
