// Package server exposes the ingestion and query pipelines over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"document-rag/internal/config"
	"document-rag/internal/db"
	"document-rag/internal/metrics"
	"document-rag/internal/rag"
	"document-rag/internal/vectorstore"
)

// Ledger persists run and query history. *db.Ledger satisfies it, including
// a nil one.
type Ledger interface {
	RecordRun(ctx context.Context, run *db.IngestionRun) error
	RecordQuery(ctx context.Context, mode, question string, pages []int, chunks int, took time.Duration, err error) error
	RecentRuns(ctx context.Context, limit int) ([]db.IngestionRun, error)
}

type Server struct {
	echo     *echo.Echo
	ingestor *rag.Ingestor
	querier  *rag.Querier
	store    *vectorstore.Store
	ledger   Ledger
	metrics  *metrics.Metrics
	config   config.ServerConfig
}

type Deps struct {
	Ingestor *rag.Ingestor
	Querier  *rag.Querier
	Store    *vectorstore.Store
	Ledger   Ledger
	Metrics  *metrics.Metrics
}

func NewServer(deps Deps, cfg config.ServerConfig) (*Server, error) {
	if deps.Ingestor == nil || deps.Querier == nil || deps.Store == nil {
		return nil, errors.New("ingestor, querier and store are required")
	}
	if deps.Ledger == nil {
		deps.Ledger = (*db.Ledger)(nil)
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger)

	s := &Server{
		echo:     e,
		ingestor: deps.Ingestor,
		querier:  deps.Querier,
		store:    deps.Store,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/runs", s.handleRuns)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	s.echo.POST("/upload", s.handleUpload, middleware.BodyLimit(fmt.Sprintf("%dM", s.config.MaxUploadMB)))
	s.echo.POST("/query", s.handleQuery)
	s.echo.POST("/simple-query", s.handleSimpleQuery)
	s.echo.POST("/search", s.handleSearch)
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		log.Info().
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Int("status", c.Response().Status).
			Dur("took", time.Since(start)).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("HTTP request")
		return nil
	}
}

// errorHandler renders every failure as {"error": "..."}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := any(http.StatusText(code))
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = he.Message
	}
	if err := c.JSON(code, ErrorResponse{Error: fmt.Sprint(msg)}); err != nil {
		log.Error().Err(err).Msg("Error writing error response")
	}
}

func (s *Server) Start() error {
	addr := s.config.Addr()
	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
