package vectorstore

import (
	"context"
	"math"
	"slices"
	"sort"

	"document-rag/internal/models"
)

// DefaultTopN is used when a caller asks for a non-positive number of matches.
const DefaultTopN = 3

// Scanner ranks every stored chunk against a query vector by exact linear scan.
type Scanner struct {
	store *Store
}

func NewScanner(store *Store) *Scanner {
	return &Scanner{store: store}
}

// TopMatches returns at most n chunks ordered by descending cosine similarity.
// Ties keep insertion order. An empty store yields an empty result.
func (s *Scanner) TopMatches(ctx context.Context, query []float32, n int) ([]models.ScoredChunk, error) {
	if n <= 0 {
		n = DefaultTopN
	}
	chunks := s.store.All()
	if len(chunks) == 0 {
		return nil, nil
	}
	if dim := len(chunks[0].Embedding); len(query) != dim {
		return nil, &DimensionError{Want: dim, Got: len(query)}
	}

	scored := make([]models.ScoredChunk, len(chunks))
	for i, c := range chunks {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scored[i] = models.ScoredChunk{Chunk: c, Score: CosineSimilarity(query, c.Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

// CosineSimilarity is dot(a,b) / (|a|*|b|). A zero vector scores 0 against
// everything. Callers guarantee equal lengths.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Citations returns the distinct page numbers of matches in ascending order.
func Citations(matches []models.ScoredChunk) []int {
	pages := make([]int, 0, len(matches))
	for _, m := range matches {
		pages = append(pages, m.Chunk.PageNumber)
	}
	slices.Sort(pages)
	return slices.Compact(pages)
}
