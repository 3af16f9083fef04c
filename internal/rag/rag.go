// Package rag answers batches of questions about one document: the document is
// fetched, chunked and indexed once, then the questions fan out over the index.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"policy-rag/internal/chunker"
	"policy-rag/internal/config"
	"policy-rag/internal/helper"
	"policy-rag/internal/llmservice"
	"policy-rag/internal/models"
	"policy-rag/internal/normalizer"
	"policy-rag/internal/retriever"
	"policy-rag/internal/synthesizer"
	"policy-rag/internal/vectorindex"
)

const (
	answerLogTimeout      = 5 * time.Second
	defaultPrepareTimeout = 5 * time.Minute
)

// Fetcher resolves a document reference to raw text
type Fetcher interface {
	FetchAndExtract(ctx context.Context, ref string) (string, models.DocumentType, error)
}

// QueryEmbedder embeds one question
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// IndexBuilder embeds the chunks of a document and indexes them
type IndexBuilder interface {
	BuildDocument(ctx context.Context, document string, chunks []models.Chunk) (*vectorindex.Index, error)
}

// Synthesizer answers a question from retrieved chunks
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, retrieval models.RetrievalResult, lookup synthesizer.ChunkLookup) (*models.Answer, error)
}

// AnswerLogger records finished batches
type AnswerLogger interface {
	Record(ctx context.Context, batch *models.BatchResult) error
}

// Deps are the collaborators of the orchestrator. LLM is only needed by
// Analyze and Summarize, AnswerLog is optional.
type Deps struct {
	Fetcher     Fetcher
	Embedder    QueryEmbedder
	Builder     IndexBuilder
	Synthesizer Synthesizer
	LLM         llmservice.Completer
	AnswerLog   AnswerLogger
}

// Options is the tunable part of the pipeline
type Options struct {
	ChunkSize         int
	ChunkOverlap      int
	TopK              int
	SimilarityFloor   float64
	MaxConcurrency    int
	BatchTimeout      time.Duration
	CacheTTL          time.Duration
	CacheSize         int
	DocumentCacheSize int
}

func OptionsFromConfig(cfg config.RAGConfig) Options {
	return Options{
		ChunkSize:         cfg.ChunkSize,
		ChunkOverlap:      cfg.ChunkOverlap,
		TopK:              cfg.TopK,
		SimilarityFloor:   cfg.SimilarityFloor,
		MaxConcurrency:    cfg.MaxConcurrency,
		BatchTimeout:      cfg.BatchTimeout.Std(),
		CacheTTL:          cfg.CacheTTL.Std(),
		CacheSize:         cfg.CacheSize,
		DocumentCacheSize: cfg.DocumentCacheSize,
	}
}

// preparedDoc is a document with its index, immutable once built
type preparedDoc struct {
	doc   models.Document
	index *vectorindex.Index
}

type RAG struct {
	deps      Deps
	opts      Options
	chunker   *chunker.Chunker
	retriever *retriever.Retriever
	docs      *expirable.LRU[string, *preparedDoc]
	answers   *expirable.LRU[string, models.Answer]
	group     singleflight.Group
}

// NewRAG wires the orchestrator. A negative cache size disables that cache.
func NewRAG(deps Deps, opts Options) *RAG {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	r := &RAG{
		deps:      deps,
		opts:      opts,
		chunker:   chunker.New(chunker.WithChunkSize(opts.ChunkSize), chunker.WithOverlap(opts.ChunkOverlap)),
		retriever: retriever.New(opts.TopK, opts.SimilarityFloor),
	}
	if opts.DocumentCacheSize >= 0 {
		r.docs = expirable.NewLRU[string, *preparedDoc](opts.DocumentCacheSize, nil, opts.CacheTTL)
	}
	if opts.CacheSize >= 0 {
		r.answers = expirable.NewLRU[string, models.Answer](opts.CacheSize, nil, opts.CacheTTL)
	}
	return r
}

// Close releases the answer log connection if there is one
func (r *RAG) Close() error {
	if c, ok := r.deps.AnswerLog.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Run answers questions about the document at ref. Results keep the input
// order and a failing question only fills its own slot. The returned error is
// set when the batch itself failed: bad input or a document that could not be
// fetched or indexed.
func (r *RAG) Run(ctx context.Context, ref string, questions []string) (*models.BatchResult, error) {
	start := time.Now()
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: document reference is empty", models.ErrInvalidInput)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions given", models.ErrInvalidInput)
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	batch := &models.BatchResult{
		ID:          id,
		DocumentRef: ref,
		State:       models.BatchReceived,
	}
	logger := log.With().Str("batch_id", batch.ID).Str("document_ref", helper.Truncate(ref, 120, "...")).Logger()
	logger.Info().Int("questions", len(questions)).Msg("Batch received")

	if r.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.BatchTimeout)
		defer cancel()
	}

	prepared, err := r.prepare(ctx, ref)
	if err != nil {
		err = timeoutErr(ctx, err)
		batch.State = models.BatchFailed
		batch.ProcessingTime = time.Since(start).Seconds()
		logger.Error().Err(err).Str("state", string(batch.State)).Msg("Document preparation failed")
		return batch, err
	}
	batch.State = models.BatchDocumentReady
	logger.Info().Str("state", string(batch.State)).Int("chunks", prepared.index.Len()).Msg("Document ready")

	batch.State = models.BatchProcessing
	results := make([]models.Result, len(questions))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.MaxConcurrency)
	for i, q := range questions {
		g.Go(func() error {
			results[i] = r.answer(ctx, logger, ref, prepared, i, q)
			return nil
		})
	}
	_ = g.Wait()

	batch.Results = results
	for _, res := range results {
		if res.Answer != nil {
			batch.TotalTokens += res.Answer.TokenUsage.Total()
		}
	}
	batch.State = models.BatchCompleted
	batch.ProcessingTime = time.Since(start).Seconds()
	logger.Info().Str("state", string(batch.State)).Float64("processing_time", batch.ProcessingTime).Int("total_tokens", batch.TotalTokens).Msg("Batch completed")

	r.record(ctx, logger, batch)
	return batch, nil
}

// answer fills the result slot of one question
func (r *RAG) answer(ctx context.Context, logger zerolog.Logger, ref string, prepared *preparedDoc, index int, text string) models.Result {
	start := time.Now()
	question := models.Question{Text: text}
	if strings.TrimSpace(text) == "" {
		return models.Failed(index, text, fmt.Errorf("%w: question is empty", models.ErrInvalidInput))
	}
	if err := ctx.Err(); err != nil {
		return models.Failed(index, text, timeoutErr(ctx, err))
	}

	key := docKey(ref) + "\x00" + question.Normalized()
	if r.answers != nil {
		if cached, ok := r.answers.Get(key); ok {
			cached.Question = text
			cached.TokenUsage = models.TokenUsage{}
			cached.ProcessingTime = time.Since(start).Seconds()
			logger.Debug().Int("index", index).Msg("Answer served from cache")
			return models.Succeeded(index, text, cached)
		}
	}

	ans, err := r.ask(ctx, prepared, text)
	if err != nil {
		err = timeoutErr(ctx, err)
		logger.Warn().Err(err).Int("index", index).Str("kind", models.KindOf(err)).Msg("Question failed")
		return models.Failed(index, text, err)
	}
	ans.ProcessingTime = time.Since(start).Seconds()
	if r.answers != nil {
		r.answers.Add(key, *ans)
	}
	return models.Succeeded(index, text, *ans)
}

func (r *RAG) ask(ctx context.Context, prepared *preparedDoc, question string) (*models.Answer, error) {
	vec, err := r.deps.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	retrieval, err := r.retriever.Retrieve(ctx, prepared.index, vec)
	if err != nil {
		return nil, err
	}
	return r.deps.Synthesizer.Synthesize(ctx, question, retrieval, prepared.index)
}

// prepare fetches, normalizes, chunks and indexes the document once. Concurrent
// batches on the same ref share one preparation.
func (r *RAG) prepare(ctx context.Context, ref string) (*preparedDoc, error) {
	key := docKey(ref)
	if r.docs != nil {
		if d, ok := r.docs.Get(key); ok {
			log.Debug().Str("document_type", string(d.doc.Type)).Msg("Document served from cache")
			return d, nil
		}
	}

	// the shared build outlives any single caller, each caller only waits
	// for its own context
	ch := r.group.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.prepareTimeout())
		defer cancel()
		d, err := r.build(buildCtx, ref)
		if err != nil {
			if errors.Is(buildCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
				err = fmt.Errorf("%w: document preparation: %w", models.ErrTimeout, err)
			}
			return nil, err
		}
		if r.docs != nil {
			r.docs.Add(key, d)
		}
		return d, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*preparedDoc), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RAG) prepareTimeout() time.Duration {
	if r.opts.BatchTimeout > 0 {
		return r.opts.BatchTimeout
	}
	return defaultPrepareTimeout
}

func (r *RAG) build(ctx context.Context, ref string) (*preparedDoc, error) {
	raw, docType, err := r.deps.Fetcher.FetchAndExtract(ctx, ref)
	if err != nil {
		return nil, err
	}

	text := normalizer.Normalize(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: document has no text after normalization", models.ErrInvalidInput)
	}

	chunks, err := r.chunker.Chunk(text)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("document_type", string(docType)).Int("chars", len([]rune(text))).Int("chunks", len(chunks)).Msg("Document chunked")

	index, err := r.deps.Builder.BuildDocument(ctx, text, chunks)
	if err != nil {
		return nil, err
	}
	return &preparedDoc{
		doc: models.Document{
			Ref:    ref,
			Type:   docType,
			Text:   text,
			Chunks: index.Chunks(),
		},
		index: index,
	}, nil
}

func (r *RAG) record(ctx context.Context, logger zerolog.Logger, batch *models.BatchResult) {
	if r.deps.AnswerLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), answerLogTimeout)
	defer cancel()
	if err := r.deps.AnswerLog.Record(ctx, batch); err != nil {
		logger.Warn().Err(err).Msg("Failed to record answer log")
	}
}

// timeoutErr marks errors caused by the batch deadline
func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
		return fmt.Errorf("%w: batch deadline exceeded: %w", models.ErrTimeout, err)
	}
	return err
}

// docKey keeps cache keys short when the reference is inline document text
func docKey(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:])
}
