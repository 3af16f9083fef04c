package vectorindex

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"policy-rag/internal/embedding"
	"policy-rag/internal/llmservice"
	"policy-rag/internal/models"
)

const defaultContextConcurrency = 4

// DocumentEmbedder embeds chunk texts, one vector per text in input order
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Builder embeds chunks and indexes them
type Builder struct {
	embedder    DocumentEmbedder
	llm         llmservice.Completer
	concurrency int
}

type BuilderOption func(*Builder)

// WithContextualizer prepends an LLM-generated situating context to the text
// embedded for each chunk. The chunk text itself is left unchanged.
func WithContextualizer(llm llmservice.Completer, concurrency int) BuilderOption {
	return func(b *Builder) {
		b.llm = llm
		if concurrency > 0 {
			b.concurrency = concurrency
		}
	}
}

func NewBuilder(embedder DocumentEmbedder, opts ...BuilderOption) *Builder {
	b := &Builder{
		embedder:    embedder,
		concurrency: defaultContextConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build embeds the chunks, stores the vectors on them and returns the index
func (b *Builder) Build(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	return b.BuildDocument(ctx, "", chunks)
}

// BuildDocument is Build with the full document text available for contextual enrichment
func (b *Builder) BuildDocument(ctx context.Context, document string, chunks []models.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", models.ErrInvalidInput)
	}

	texts := b.embeddingTexts(ctx, document, chunks)
	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrEmbeddingService, len(vectors), len(chunks))
	}

	embedded := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = vectors[i]
		embedded[i] = c
	}

	ix, err := newIndex(ctx, embedded)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("chunks", ix.Len()).Int("dimension", ix.Dimension()).Msg("Built vector index")
	return ix, nil
}

func (b *Builder) embeddingTexts(ctx context.Context, document string, chunks []models.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if b.llm == nil || document == "" {
		return texts
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			situated, err := embedding.GenerateContext(gctx, b.llm, document, c.Text)
			if err != nil {
				log.Warn().Err(err).Int("chunk_id", c.ID).Msg("Context generation failed, embedding chunk text only")
				return nil
			}
			if situated != "" {
				texts[i] = situated + "\n\n" + c.Text
			}
			return nil
		})
	}
	_ = g.Wait()
	return texts
}
