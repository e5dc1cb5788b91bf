package models

import "time"

// Chunk is one retrievable passage with its embedding and 1-based source page.
// Chunks are immutable once stored.
type Chunk struct {
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	PageNumber int       `json:"pageNumber"`
}

// ScoredChunk pairs a stored chunk with its cosine similarity to a query.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	RunID        string        `json:"runId"`
	TotalPages   int           `json:"totalPages"`
	PagesSkipped int           `json:"pagesSkipped"`
	ChunksAdded  int           `json:"chunksAdded"`
	ChunksStored int           `json:"chunksStored"`
	Duration     time.Duration `json:"duration"`
}

// QueryResult is the answer for one query along with its citation set.
type QueryResult struct {
	Answer              string `json:"answer"`
	PagesUsed           []int  `json:"pagesUsed"`
	TotalRelevantChunks int    `json:"totalRelevantChunks"`
}

// SearchResult is retrieval output without answer synthesis.
type SearchResult struct {
	Matches   []ScoredChunk `json:"matches"`
	PagesUsed []int         `json:"pagesUsed"`
}
