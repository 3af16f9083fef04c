// Package retriever selects the chunks most similar to a question.
package retriever

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/models"
)

// Searcher ranks every indexed chunk against a query vector, best first
type Searcher interface {
	Search(ctx context.Context, query []float32) ([]models.Hit, error)
}

// Retriever returns at most TopK hits whose score is at least Floor
type Retriever struct {
	TopK  int
	Floor float64
}

func New(topK int, floor float64) *Retriever {
	return &Retriever{TopK: topK, Floor: floor}
}

// Retrieve runs the question embedding against the index. The result is
// ordered by descending score with ties broken by ascending chunk ID, and may be empty.
func (r *Retriever) Retrieve(ctx context.Context, index Searcher, query []float32) (models.RetrievalResult, error) {
	return Retrieve(ctx, index, query, r.TopK, r.Floor)
}

func Retrieve(ctx context.Context, index Searcher, query []float32, k int, floor float64) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidInput, k)
	}

	hits, err := index.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	result := make(models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < floor {
			break
		}
		result = append(result, h)
	}

	log.Debug().Int("k", k).Int("hits", len(result)).Float64("top_score", result.TopScore()).Msg("Retrieved chunks")
	return result, nil
}
