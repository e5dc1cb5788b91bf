// Package chromemdb mirrors the vector store into a chromem-go collection so it
// can serve as an alternative retriever and be exported as an encrypted
// snapshot for offline inspection.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-rag/internal/models"
	"document-rag/internal/vectorstore"
)

const (
	compress    = true
	metaPage    = "page"
	metaOrdinal = "ordinal"
)

// Index is a chromem-go collection kept in sync with a vectorstore.Store. It is
// rebuilt whenever the store's generation changes and extended with newly
// appended chunks before every query.
type Index struct {
	mu         sync.Mutex
	store      *vectorstore.Store
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	generation uint64
	synced     int
}

// NewIndex creates an in-memory chromem database holding one collection.
func NewIndex(store *vectorstore.Store, collectionName string) (*Index, error) {
	idx := &Index{
		store: store,
		db:    chromem.NewDB(),
		name:  collectionName,
	}
	if err := idx.reset(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) reset() error {
	if idx.collection != nil {
		if err := idx.db.DeleteCollection(idx.name); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}
	c, err := idx.db.GetOrCreateCollection(idx.name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	idx.collection = c
	idx.synced = 0
	return nil
}

// sync copies chunks appended since the last sync and returns the snapshot the
// collection now mirrors. Callers hold idx.mu.
func (idx *Index) sync(ctx context.Context) ([]models.Chunk, error) {
	chunks, gen := idx.store.Snapshot()
	if gen != idx.generation || len(chunks) < idx.synced {
		if err := idx.reset(); err != nil {
			return nil, err
		}
		idx.generation = gen
	}
	if len(chunks) == idx.synced {
		return chunks, nil
	}

	pending := chunks[idx.synced:]
	docs := make([]chromem.Document, len(pending))
	for i, c := range pending {
		ordinal := idx.synced + i
		docs[i] = chromem.Document{
			ID:      uuid.NewString(),
			Content: c.Text,
			Metadata: map[string]string{
				metaPage:    strconv.Itoa(c.PageNumber),
				metaOrdinal: strconv.Itoa(ordinal),
			},
			// chromem normalizes in place; keep the store's vector untouched
			Embedding: append([]float32(nil), c.Embedding...),
		}
	}
	if err := idx.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	idx.synced = len(chunks)
	log.Debug().Int("added", len(docs)).Int("total", idx.synced).Msg("Synced chromem index")
	return chunks, nil
}

// TopMatches queries the mirrored collection. Scores are cosine similarities;
// ordering of exactly tied scores is not guaranteed.
func (idx *Index) TopMatches(ctx context.Context, query []float32, n int) ([]models.ScoredChunk, error) {
	if n <= 0 {
		n = vectorstore.DefaultTopN
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	chunks, err := idx.sync(ctx)
	if err != nil {
		return nil, err
	}
	count := idx.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if dim := idx.store.Dimension(); dim != 0 && dim != len(query) {
		return nil, &vectorstore.DimensionError{Want: dim, Got: len(query)}
	}

	results, err := idx.collection.QueryEmbedding(ctx, append([]float32(nil), query...), min(n, count), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	scored := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		ordinal, err := strconv.Atoi(r.Metadata[metaOrdinal])
		if err != nil || ordinal < 0 || ordinal >= len(chunks) {
			return nil, fmt.Errorf("document %s: bad ordinal metadata %q", r.ID, r.Metadata[metaOrdinal])
		}
		scored = append(scored, models.ScoredChunk{
			Chunk: chunks[ordinal],
			Score: float64(r.Similarity),
		})
	}
	return scored, nil
}

// Export writes the mirrored collection to filePath, gzip-compressed and
// AES-GCM encrypted with encryptionKey (32 bytes).
func (idx *Index) Export(ctx context.Context, filePath, encryptionKey string) error {
	if len(encryptionKey) != 32 {
		return errors.New("encryption key must be 32 bytes")
	}
	if filePath == "" {
		return errors.New("export path is required")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, err := idx.sync(ctx); err != nil {
		return err
	}

	log.Debug().Str("collection", idx.name).Str("file", filePath).Int("documents", idx.synced).Msg("Exporting chromem collection")
	if err := idx.db.ExportToFile(filePath, compress, encryptionKey, idx.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Count reports how many chunks are currently mirrored.
func (idx *Index) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.synced
}
