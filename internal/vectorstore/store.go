// Package vectorstore holds the in-memory chunk collection shared by the
// ingestion and query pipelines, and the exact cosine retriever over it.
package vectorstore

import (
	"errors"
	"fmt"
	"sync"

	"document-rag/internal/models"
)

// ErrDimensionMismatch reports a vector whose length differs from the
// dimensionality already established for a store. It means the embedding model
// changed underneath the store and is not recoverable.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrEmptyEmbedding rejects chunks stored without a vector.
var ErrEmptyEmbedding = errors.New("chunk has an empty embedding")

// DimensionError carries the expected and actual lengths of a mismatched vector.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// Store is an append-only, ordered collection of chunks. Appends are atomic per
// call: readers never observe a partially written chunk or batch.
type Store struct {
	mu         sync.RWMutex
	chunks     []models.Chunk
	dimension  int
	generation uint64
}

func NewStore() *Store { return &Store{} }

// Append adds one chunk. The first chunk fixes the store's dimensionality.
func (s *Store) Append(chunk models.Chunk) error {
	return s.AppendBatch([]models.Chunk{chunk})
}

// AppendBatch adds all chunks or none of them.
func (s *Store) AppendBatch(chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 {
		dim = len(chunks[0].Embedding)
	}
	if dim == 0 {
		return ErrEmptyEmbedding
	}
	if err := checkDimensions(chunks, dim); err != nil {
		return err
	}
	s.dimension = dim
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Replace swaps the whole contents for chunks. The dimensionality is re-derived
// from the new contents.
func (s *Store) Replace(chunks []models.Chunk) error {
	dim := 0
	if len(chunks) > 0 {
		dim = len(chunks[0].Embedding)
		if dim == 0 {
			return ErrEmptyEmbedding
		}
		if err := checkDimensions(chunks, dim); err != nil {
			return err
		}
	}
	fresh := make([]models.Chunk, len(chunks))
	copy(fresh, chunks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = fresh
	s.dimension = dim
	s.generation++
	return nil
}

// Clear drops every chunk and forgets the dimensionality.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.dimension = 0
	s.generation++
}

// All returns a read view of the chunks in insertion order. The view is stable:
// later appends never modify it.
func (s *Store) All() []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks[:len(s.chunks):len(s.chunks)]
}

// Snapshot returns the read view together with the generation it belongs to.
func (s *Store) Snapshot() ([]models.Chunk, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks[:len(s.chunks):len(s.chunks)], s.generation
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Dimension is 0 until the first chunk is stored.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Generation changes whenever the contents are replaced or cleared, never on append.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func checkDimensions(chunks []models.Chunk, dim int) error {
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return &DimensionError{Want: dim, Got: len(c.Embedding)}
		}
	}
	return nil
}
