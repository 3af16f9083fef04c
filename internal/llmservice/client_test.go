package llmservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"policy-rag/internal/config"
	"policy-rag/internal/models"
	"policy-rag/internal/retry"
)

type fakeModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	errs      []error
	calls     int
	prompts   []string
	maxTokens []int
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.maxTokens = append(m.maxTokens, opts.MaxTokens)
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			m.prompts = append(m.prompts, text.Text)
		}
	}

	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func response(text string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, GenerationInfo: info}}}
}

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

func TestComplete(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{
		response("ANSWER: thirty days", map[string]any{"PromptTokens": 120, "CompletionTokens": 8}),
	}}
	c := NewClient(model, WithRetryPolicy(fastRetry))

	got, err := c.Complete(context.Background(), "what is the grace period?", 256)
	require.NoError(t, err)
	assert.Equal(t, "ANSWER: thirty days", got.Text)
	assert.Equal(t, models.TokenUsage{PromptTokens: 120, CompletionTokens: 8}, got.Usage)
	assert.Equal(t, []string{"what is the grace period?"}, model.prompts)
	assert.Equal(t, []int{256}, model.maxTokens)
}

func TestComplete_RetriesTransientErrors(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("503"), errors.New("503")},
		responses: []*llms.ContentResponse{nil, nil, response("ok", nil)},
	}
	c := NewClient(model, WithRetryPolicy(fastRetry))

	got, err := c.Complete(context.Background(), "p", 10)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, 3, model.calls)
}

func TestComplete_ExhaustedRetries(t *testing.T) {
	boom := errors.New("upstream down")
	model := &fakeModel{errs: []error{boom, boom, boom}, responses: []*llms.ContentResponse{nil}}
	c := NewClient(model, WithRetryPolicy(fastRetry))

	_, err := c.Complete(context.Background(), "p", 10)
	assert.ErrorIs(t, err, models.ErrSynthesis)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, model.calls)
}

func TestComplete_EmptyCompletionIsNotRetried(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{response("  \n", nil)}}
	c := NewClient(model, WithRetryPolicy(fastRetry))

	_, err := c.Complete(context.Background(), "p", 10)
	assert.ErrorIs(t, err, models.ErrSynthesis)
	assert.Equal(t, 1, model.calls)
}

func TestComplete_RateLimitHonoursContext(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{response("ok", nil)}}
	c := NewClient(model, WithRetryPolicy(retry.Policy{MaxAttempts: 1}), WithRateLimit(0.001, 1))

	_, err := c.Complete(context.Background(), "p", 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "p", 10)
	assert.ErrorIs(t, err, models.ErrSynthesis)
	assert.Equal(t, 1, model.calls)
}

func TestUsageOf(t *testing.T) {
	assert.Equal(t, models.TokenUsage{PromptTokens: 3, CompletionTokens: 4},
		usageOf(map[string]any{"PromptTokens": int64(3), "CompletionTokens": float64(4)}))
	assert.Equal(t, models.TokenUsage{}, usageOf(nil))
}

func TestNewModel(t *testing.T) {
	_, err := NewModel(config.LLMConfig{Provider: "gemini"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	m, err := NewModel(config.LLMConfig{Provider: ProviderOpenAI, BaseURL: "http://localhost:1/v1", Key: "Bearer sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = NewModel(config.LLMConfig{Provider: ProviderOllama, BaseURL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
