// Package db keeps an optional Postgres ledger of ingestion runs and queries.
// Chunks themselves never leave the process.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-rag/internal/config"
	"document-rag/internal/helper"
	"document-rag/internal/models"
)

type IngestionRun struct {
	bun.BaseModel `bun:"table:ingestion_runs,alias:r"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	RunID         string    `bun:"run_id,notnull,unique" json:"runId"`
	Filename      string    `bun:"filename" json:"filename"`
	Status        string    `bun:"status,notnull" json:"status"`
	TotalPages    int       `bun:"total_pages" json:"totalPages"`
	PagesSkipped  int       `bun:"pages_skipped" json:"pagesSkipped"`
	ChunksAdded   int       `bun:"chunks_added" json:"chunksAdded"`
	ChunksStored  int       `bun:"chunks_stored" json:"chunksStored"`
	Error         string    `bun:"error" json:"error,omitempty"`
	DurationMS    int64     `bun:"duration_ms" json:"durationMs"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

type QueryLog struct {
	bun.BaseModel `bun:"table:query_logs,alias:q"`
	ID            int64         `bun:"id,pk,autoincrement"`
	Mode          string        `bun:"mode,notnull"`
	Question      string        `bun:"question,notnull"`
	PagesUsed     pq.Int64Array `bun:"pages_used,type:bigint[]"`
	Chunks        int           `bun:"chunks"`
	Error         string        `bun:"error"`
	DurationMS    int64         `bun:"duration_ms"`
	CreatedAt     time.Time     `bun:"created_at,notnull,default:current_timestamp"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ConnectDB opens a pool for the configured driver. Nothing is dialed until
// the first query.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPQ:
		return sql.Open("postgres", cfg.DSN)
	case config.DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Ledger records runs and queries. A nil *Ledger accepts every call and
// stores nothing.
type Ledger struct {
	db *bun.DB
}

func NewLedger(db *bun.DB) *Ledger {
	return &Ledger{db: db}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*IngestionRun)(nil), (*QueryLog)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// NewIngestionRun maps a pipeline outcome onto a ledger row. res is nil for
// failed runs; those get a fresh id unless runID is given.
func NewIngestionRun(runID, filename string, res *models.IngestResult, took time.Duration, runErr error) *IngestionRun {
	if runID == "" && res == nil {
		id, err := helper.GenerateUUID()
		if err != nil {
			log.Warn().Err(err).Msg("Error generating run id")
		}
		runID = id
	}
	run := &IngestionRun{
		RunID:      runID,
		Filename:   filename,
		Status:     StatusCompleted,
		DurationMS: took.Milliseconds(),
	}
	if res != nil {
		run.RunID = res.RunID
		run.TotalPages = res.TotalPages
		run.PagesSkipped = res.PagesSkipped
		run.ChunksAdded = res.ChunksAdded
		run.ChunksStored = res.ChunksStored
	}
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	}
	return run
}

func (l *Ledger) RecordRun(ctx context.Context, run *IngestionRun) error {
	if l == nil {
		return nil
	}
	_, err := l.db.NewInsert().Model(run).Exec(ctx)
	return err
}

func (l *Ledger) RecordQuery(ctx context.Context, mode, question string, pages []int, chunks int, took time.Duration, queryErr error) error {
	if l == nil {
		return nil
	}
	_, err := l.db.NewInsert().Model(NewQueryLog(mode, question, pages, chunks, took, queryErr)).Exec(ctx)
	return err
}

func NewQueryLog(mode, question string, pages []int, chunks int, took time.Duration, queryErr error) *QueryLog {
	entry := &QueryLog{
		Mode:       mode,
		Question:   question,
		PagesUsed:  make(pq.Int64Array, len(pages)),
		Chunks:     chunks,
		DurationMS: took.Milliseconds(),
	}
	for i, p := range pages {
		entry.PagesUsed[i] = int64(p)
	}
	if queryErr != nil {
		entry.Error = queryErr.Error()
	}
	return entry
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]IngestionRun, error) {
	if l == nil {
		return []IngestionRun{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	runs := []IngestionRun{}
	err := l.recentRunsQuery(&runs, limit).Scan(ctx)
	return runs, err
}

func (l *Ledger) recentRunsQuery(runs *[]IngestionRun, limit int) *bun.SelectQuery {
	return l.db.NewSelect().
		Model(runs).
		OrderExpr("created_at DESC, id DESC").
		Limit(limit)
}

func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
