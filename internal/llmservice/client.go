package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"policy-rag/internal/config"
	"policy-rag/internal/models"
	"policy-rag/internal/retry"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Completion is the text produced by one call plus the provider's token counts
type Completion struct {
	Text  string
	Usage models.TokenUsage
}

// Completer turns a prompt into a completion of at most maxTokens tokens
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error)
}

// NewModel builds the langchaingo model for the configured provider
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating LLM client")

	switch cfg.Provider {
	case ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		return llm, nil
	case ProviderOpenAI, "":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", models.ErrInvalidInput, cfg.Provider)
	}
}

// Client calls a langchaingo model with retries and client-side rate limiting
type Client struct {
	model       llms.Model
	policy      retry.Policy
	limiter     *rate.Limiter
	temperature float64
}

type Option func(*Client)

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRateLimit caps outgoing requests per second, rps <= 0 disables it
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

func NewClient(model llms.Model, opts ...Option) *Client {
	c := &Client{
		model:  model,
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig wires the model, retry policy and limiter from config
func NewClientFromConfig(cfg config.LLMConfig, policy retry.Policy) (*Client, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(model,
		WithRetryPolicy(policy),
		WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		WithTemperature(cfg.Temperature),
	), nil
}

// Complete sends prompt as a single human message. Failures after the retry
// budget and empty completions are reported as ErrSynthesis.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	completion, err := retry.Do(ctx, c.policy, "llm completion", func(ctx context.Context) (Completion, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Completion{}, err
			}
		}
		resp, err := c.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return Completion{}, err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			return Completion{}, retry.Permanent(fmt.Errorf("%w: empty completion", models.ErrSynthesis))
		}
		choice := resp.Choices[0]
		return Completion{Text: choice.Content, Usage: usageOf(choice.GenerationInfo)}, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrSynthesis) {
			return Completion{}, err
		}
		return Completion{}, fmt.Errorf("%w: %w", models.ErrSynthesis, err)
	}

	log.Debug().Int("prompt_tokens", completion.Usage.PromptTokens).Int("completion_tokens", completion.Usage.CompletionTokens).Msg("LLM call completed")
	return completion, nil
}

// usageOf reads token counts from the generation info both providers fill in
func usageOf(info map[string]any) models.TokenUsage {
	return models.TokenUsage{
		PromptTokens:     toInt(info["PromptTokens"]),
		CompletionTokens: toInt(info["CompletionTokens"]),
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
