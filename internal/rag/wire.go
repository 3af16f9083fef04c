package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/config"
	"policy-rag/internal/db"
	"policy-rag/internal/embedding"
	"policy-rag/internal/fetcher"
	"policy-rag/internal/llmservice"
	"policy-rag/internal/synthesizer"
	"policy-rag/internal/vectorindex"
)

const embeddingCacheSize = 4096

// NewFromConfig builds the production pipeline: langchaingo providers for
// completions and embeddings, the HTTP/file fetcher and, when a DSN is set,
// the Postgres answer log. fetchOpts are applied after the retry policy, so
// callers can enable local files.
func NewFromConfig(ctx context.Context, cfg *config.Config, fetchOpts ...fetcher.Option) (*RAG, error) {
	policy := cfg.RAG.RetryPolicy()

	llm, err := llmservice.NewClientFromConfig(cfg.LLM, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	embedder, err := embedding.NewEmbedder(cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	embedService := embedding.NewService(embedder,
		embedding.WithRetryPolicy(policy),
		embedding.WithRateLimit(cfg.EmbedLLM.RequestsPerSecond, cfg.EmbedLLM.Burst),
		embedding.WithBatchSize(cfg.RAG.EmbedBatchSize),
		embedding.WithCacheSize(embeddingCacheSize),
	)

	var builderOpts []vectorindex.BuilderOption
	if cfg.RAG.Contextualize {
		builderOpts = append(builderOpts, vectorindex.WithContextualizer(llm, cfg.RAG.MaxConcurrency))
	}

	// the http client carries its own timeout
	fetchPolicy := policy
	fetchPolicy.CallTimeout = 0

	deps := Deps{
		Fetcher:     fetcher.New(cfg.Fetch, append([]fetcher.Option{fetcher.WithRetryPolicy(fetchPolicy)}, fetchOpts...)...),
		Embedder:    embedService,
		Builder:     vectorindex.NewBuilder(embedService, builderOpts...),
		Synthesizer: synthesizer.New(llm, synthesizer.WithMaxTokens(cfg.LLM.MaxTokens)),
		LLM:         llm,
	}

	if cfg.Database.DSN != "" {
		store, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open answer log: %w", err)
		}
		deps.AnswerLog = store
		log.Info().Str("driver", cfg.Database.Driver).Msg("Answer log enabled")
	}

	return NewRAG(deps, OptionsFromConfig(cfg.RAG)), nil
}
