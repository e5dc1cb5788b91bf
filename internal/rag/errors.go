package rag

import (
	"fmt"
	"strings"
)

// Stage names a step of the ingestion or query state machine.
type Stage string

const (
	StageStarted         Stage = "started"
	StageExtractingPages Stage = "extracting_pages"
	StageExtractingText  Stage = "extracting_text"
	StageChunking        Stage = "chunking"
	StageEmbedding       Stage = "embedding_chunks"
	StageStoring         Stage = "storing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"

	StageEmbeddingQuery Stage = "embedding_query"
	StageRetrieving     Stage = "retrieving"
	StageGenerating     Stage = "generating"
)

// StageError records where a pipeline run failed. Page and Chunk are 1-based
// and zero when not applicable. The cause is reachable with errors.Is/As.
type StageError struct {
	Stage Stage
	Page  int
	Chunk int
	Err   error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Page > 0 {
		fmt.Fprintf(&b, " page %d", e.Page)
	}
	if e.Chunk > 0 {
		fmt.Fprintf(&b, " chunk %d", e.Chunk)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }
