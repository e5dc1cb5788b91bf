package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"document-rag/internal/db"
	"document-rag/internal/models"
	"document-rag/internal/parser"
	"document-rag/internal/rag"
)

const (
	uploadField    = "pdf"
	noAnswer       = "No response from model."
	msgProcessed   = "Document uploaded and processed successfully. You can now send queries to extract information."
	msgIngestError = "Failed to process document."
	msgQueryError  = "Failed to get response from model."
	msgSearchError = "Failed to search documents."
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type UploadResponse struct {
	Message      string `json:"message"`
	RunID        string `json:"runId"`
	TotalPages   int    `json:"totalPages"`
	PagesSkipped int    `json:"pagesSkipped"`
	ChunksStored int    `json:"chunksStored"`
}

type QueryRequest struct {
	Query string `json:"query"`
	TopN  int    `json:"topN,omitempty"`
}

type QueryResponse struct {
	Answer              string `json:"answer"`
	PagesUsed           []int  `json:"pagesUsed"`
	TotalRelevantChunks int    `json:"totalRelevantChunks"`
}

type SimpleQueryResponse struct {
	Answer              string `json:"answer"`
	FoundOnPages        []int  `json:"foundOnPages"`
	TotalRelevantChunks int    `json:"totalRelevantChunks"`
}

type StatsResponse struct {
	Chunks    int    `json:"chunks"`
	Dimension int    `json:"dimension"`
	Pages     []int  `json:"pages"`
	Version   uint64 `json:"version"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleUpload(c echo.Context) error {
	file, err := c.FormFile(uploadField)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded in field \""+uploadField+"\".")
	}
	extractor, err := parser.ForFile(file.Filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			"Unsupported file type. Supported: "+strings.Join(parser.SupportedExtensions(), ", "))
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read upload.")
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read upload.")
	}

	ctx := c.Request().Context()
	start := time.Now()
	res, ingestErr := s.ingestor.Ingest(ctx, extractor, data)
	s.recordRun(ctx, file.Filename, res, time.Since(start), ingestErr)
	if ingestErr != nil {
		log.Error().Err(ingestErr).Str("file", file.Filename).Msg("Error processing upload")
		return echo.NewHTTPError(http.StatusInternalServerError, msgIngestError)
	}

	return c.JSON(http.StatusOK, UploadResponse{
		Message:      msgProcessed,
		RunID:        res.RunID,
		TotalPages:   res.TotalPages,
		PagesSkipped: res.PagesSkipped,
		ChunksStored: res.ChunksStored,
	})
}

func (s *Server) recordRun(ctx context.Context, filename string, res *models.IngestResult, took time.Duration, runErr error) {
	if err := s.ledger.RecordRun(ctx, db.NewIngestionRun("", filename, res, took, runErr)); err != nil {
		log.Warn().Err(err).Msg("Error recording ingestion run")
	}
}

func (s *Server) bindQuery(c echo.Context) (QueryRequest, error) {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	return req, nil
}

func (s *Server) handleQuery(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	res, err := s.ask(c.Request().Context(), rag.ModeCited, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, msgQueryError)
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Answer:              answerOrDefault(res.Answer),
		PagesUsed:           res.PagesUsed,
		TotalRelevantChunks: res.TotalRelevantChunks,
	})
}

func (s *Server) handleSimpleQuery(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	res, err := s.ask(c.Request().Context(), rag.ModeSimple, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, msgQueryError)
	}
	return c.JSON(http.StatusOK, SimpleQueryResponse{
		Answer:              answerOrDefault(res.Answer),
		FoundOnPages:        res.PagesUsed,
		TotalRelevantChunks: res.TotalRelevantChunks,
	})
}

func (s *Server) ask(ctx context.Context, mode, query string) (*models.QueryResult, error) {
	start := time.Now()
	var (
		res *models.QueryResult
		err error
	)
	if mode == rag.ModeSimple {
		res, err = s.querier.AskSimple(ctx, query)
	} else {
		res, err = s.querier.Ask(ctx, query)
	}

	var pages []int
	chunks := 0
	if res != nil {
		pages, chunks = res.PagesUsed, res.TotalRelevantChunks
	}
	if lerr := s.ledger.RecordQuery(ctx, mode, query, pages, chunks, time.Since(start), err); lerr != nil {
		log.Warn().Err(lerr).Msg("Error recording query")
	}
	if err != nil {
		log.Error().Err(err).Str("mode", mode).Msg("Error answering query")
	}
	return res, err
}

func (s *Server) handleSearch(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	res, err := s.querier.Search(c.Request().Context(), req.Query, req.TopN)
	if err != nil {
		log.Error().Err(err).Msg("Error searching")
		return echo.NewHTTPError(http.StatusInternalServerError, msgSearchError)
	}
	if res.Matches == nil {
		res.Matches = []models.ScoredChunk{}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	chunks, version := s.store.Snapshot()
	seen := make(map[int]struct{})
	pages := []int{}
	for _, ch := range chunks {
		if _, ok := seen[ch.PageNumber]; !ok {
			seen[ch.PageNumber] = struct{}{}
			pages = append(pages, ch.PageNumber)
		}
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Chunks:    len(chunks),
		Dimension: s.store.Dimension(),
		Pages:     pages,
		Version:   version,
	})
}

func (s *Server) handleRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.ledger.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Error listing runs")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list runs.")
	}
	return c.JSON(http.StatusOK, runs)
}

func answerOrDefault(answer string) string {
	if strings.TrimSpace(answer) == "" {
		return noAnswer
	}
	return answer
}
