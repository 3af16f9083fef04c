// Package vectorindex builds an in-memory cosine index over the chunks of one document.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"

	"policy-rag/internal/models"
)

const (
	collectionName = "chunks"
	metaChunkID    = "chunk_id"
)

// Index is immutable once built and safe for concurrent queries
type Index struct {
	chunks     []models.Chunk
	byID       map[int]int
	collection *chromem.Collection
	dim        int
}

// newIndex loads the embedded chunks into a fresh chromem collection
func newIndex(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	ix := &Index{
		chunks:     chunks,
		byID:       make(map[int]int, len(chunks)),
		collection: collection,
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		if err := ix.checkVector(c.Embedding); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", models.ErrEmbeddingService, c.ID, err)
		}
		ix.byID[c.ID] = i
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(c.ID),
			Content:   c.Text,
			Metadata:  map[string]string{metaChunkID: strconv.Itoa(c.ID)},
			Embedding: append([]float32(nil), c.Embedding...),
		})
	}

	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add chunks to collection: %w", err)
	}
	return ix, nil
}

// checkVector enforces one non-zero dimension across the index
func (ix *Index) checkVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("missing embedding")
	}
	if ix.dim == 0 {
		ix.dim = len(v)
	}
	if len(v) != ix.dim {
		return fmt.Errorf("embedding dimension %d, expected %d", len(v), ix.dim)
	}
	if norm(v) == 0 {
		return fmt.Errorf("zero-norm embedding")
	}
	return nil
}

// Len returns the number of indexed chunks
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Dimension returns the embedding dimension
func (ix *Index) Dimension() int {
	return ix.dim
}

// Chunk looks up an indexed chunk by ID
func (ix *Index) Chunk(id int) (models.Chunk, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return models.Chunk{}, false
	}
	return ix.chunks[i], true
}

// Chunks returns the indexed chunks in ID order
func (ix *Index) Chunks() []models.Chunk {
	out := make([]models.Chunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

// Search scores every chunk against the query and returns all hits ordered by
// descending score, ties by ascending chunk ID. A zero-norm query matches nothing.
func (ix *Index) Search(ctx context.Context, query []float32) ([]models.Hit, error) {
	if ix.Len() == 0 || norm(query) == 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", models.ErrEmbeddingService, len(query), ix.dim)
	}

	results, err := ix.collection.QueryEmbedding(ctx, query, ix.collection.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.Atoi(r.Metadata[metaChunkID])
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk id %q: %w", r.Metadata[metaChunkID], err)
		}
		hits = append(hits, models.Hit{ChunkID: id, Score: float64(r.Similarity)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
