// Package embedding wraps a langchaingo embedder with retries, rate limiting
// and a content-hash cache.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"policy-rag/internal/config"
	"policy-rag/internal/llmservice"
	"policy-rag/internal/models"
	"policy-rag/internal/retry"
)

const defaultBatchSize = 32

// NewEmbedder creates the langchaingo embedder for the configured provider
func NewEmbedder(cfg config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case llmservice.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		client = llm
	case llmservice.ProviderOpenAI, "":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidInput, cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// Service embeds texts through an embeddings.Embedder. Each provider call is
// retried under the policy and passes the rate limiter, identical texts are
// served from an LRU cache.
type Service struct {
	embedder  embeddings.Embedder
	policy    retry.Policy
	limiter   *rate.Limiter
	cache     *lru.Cache[string, []float32]
	batchSize int
}

type Option func(*Service)

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithRateLimit caps provider requests per second, rps <= 0 disables it
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Service) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCacheSize sets the number of cached vectors, 0 disables the cache
func WithCacheSize(n int) Option {
	return func(s *Service) {
		if n <= 0 {
			s.cache = nil
			return
		}
		s.cache, _ = lru.New[string, []float32](n)
	}
}

// WithBatchSize sets how many texts go into one provider request
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewService(embedder embeddings.Embedder, opts ...Option) *Service {
	s := &Service{
		embedder:  embedder,
		policy:    retry.DefaultPolicy(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedQuery embeds a single question
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := hashKey("q", text)
	if v, ok := s.cached(key); ok {
		return v, nil
	}

	vec, err := retry.Do(ctx, s.policy, "embed query", func(ctx context.Context) ([]float32, error) {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		return s.embedder.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, wrap(err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", models.ErrEmbeddingService)
	}

	s.store(key, vec)
	return clone(vec), nil
}

// EmbedDocuments embeds texts in batches and returns one vector per text, in order
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := s.cached(hashKey("d", text)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += s.batchSize {
		end := min(start+s.batchSize, len(missing))
		batch := make([]string, 0, end-start)
		for _, i := range missing[start:end] {
			batch = append(batch, texts[i])
		}

		vecs, err := retry.Do(ctx, s.policy, "embed documents", func(ctx context.Context) ([][]float32, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			return s.embedder.EmbedDocuments(ctx, batch)
		})
		if err != nil {
			return nil, wrap(err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", models.ErrEmbeddingService, len(vecs), len(batch))
		}

		for j, i := range missing[start:end] {
			out[i] = vecs[j]
			s.store(hashKey("d", texts[i]), vecs[j])
		}
		log.Debug().Int("batch", len(batch)).Int("done", end).Int("total", len(missing)).Msg("Embedded document batch")
	}
	return out, nil
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Service) cached(key string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

func (s *Service) store(key string, v []float32) {
	if s.cache != nil {
		s.cache.Add(key, clone(v))
	}
}

// hashKey separates query and document vectors since some providers embed them differently
func hashKey(kind, text string) string {
	h := sha256.Sum256([]byte(text))
	return kind + ":" + hex.EncodeToString(h[:])
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func wrap(err error) error {
	if errors.Is(err, models.ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
}
