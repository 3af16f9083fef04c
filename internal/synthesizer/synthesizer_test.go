package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag/internal/llmservice"
	"policy-rag/internal/models"
)

type fakeLLM struct {
	text    string
	err     error
	calls   int
	prompts []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, maxTokens int) (llmservice.Completion, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return llmservice.Completion{}, f.err
	}
	return llmservice.Completion{Text: f.text, Usage: models.TokenUsage{PromptTokens: 50, CompletionTokens: 10}}, nil
}

type chunkMap map[int]models.Chunk

func (m chunkMap) Chunk(id int) (models.Chunk, bool) {
	c, ok := m[id]
	return c, ok
}

var chunks = chunkMap{
	0: {ID: 0, Text: "A grace period of thirty days is allowed for premium payment."},
	3: {ID: 3, Text: "Renewal premiums are payable annually."},
}

func TestSynthesize_EmptyRetrievalSkipsLLM(t *testing.T) {
	llm := &fakeLLM{text: "ANSWER: should not be used"}
	s := New(llm)

	ans, err := s.Synthesize(context.Background(), "What is the grace period?", nil, chunks)
	require.NoError(t, err)
	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, models.InsufficientContextAnswer, ans.Text)
	assert.Equal(t, models.InsufficientContextConfidence, ans.Confidence)
	assert.Empty(t, ans.SourceChunkIDs)
	assert.Equal(t, "What is the grace period?", ans.Question)
}

func TestSynthesize_GroundedAnswer(t *testing.T) {
	llm := &fakeLLM{text: "<think>look at chunk 0</think>\nANSWER: Thirty days.\nCONFIDENCE: 0.9\nREASONING: Chunk 0 states it."}
	s := New(llm, WithMaxTokens(200))
	retrieval := models.RetrievalResult{{ChunkID: 3, Score: 0.8}, {ChunkID: 0, Score: 0.8}}

	ans, err := s.Synthesize(context.Background(), "What is the grace period?", retrieval, chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "Thirty days.", ans.Text)
	assert.Equal(t, "Chunk 0 states it.", ans.Reasoning)
	assert.Equal(t, []int{3, 0}, ans.SourceChunkIDs)
	assert.InDelta(t, 0.85, ans.Confidence, 1e-9)
	assert.Equal(t, 60, ans.TokenUsage.Total())

	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "QUESTION TYPE: TIME_PERIOD")
	assert.Contains(t, prompt, "QUESTION: What is the grace period?")
	assert.Contains(t, prompt, "Grace periods, waiting periods")
	first := strings.Index(prompt, "[chunk 3] (similarity 0.800)")
	second := strings.Index(prompt, "[chunk 0] (similarity 0.800)")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second, "chunks appear in retrieval order")
}

func TestSynthesize_UncertainAnswerIsCapped(t *testing.T) {
	llm := &fakeLLM{text: "ANSWER: The provided document does not contain information about dental cover.\nCONFIDENCE: 0.9"}
	ans, err := New(llm).Synthesize(context.Background(), "Is dental covered?", models.RetrievalResult{{ChunkID: 0, Score: 0.95}}, chunks)
	require.NoError(t, err)
	assert.LessOrEqual(t, ans.Confidence, models.UncertaintyCeiling)
}

func TestSynthesize_UnstructuredCompletion(t *testing.T) {
	llm := &fakeLLM{text: "  Thirty days from the due date.  "}
	ans, err := New(llm).Synthesize(context.Background(), "grace?", models.RetrievalResult{{ChunkID: 0, Score: 0.6}}, chunks)
	require.NoError(t, err)
	assert.Equal(t, "Thirty days from the due date.", ans.Text)
	assert.InDelta(t, 0.6, ans.Confidence, 1e-9)
}

func TestSynthesize_Errors(t *testing.T) {
	t.Run("llm failure", func(t *testing.T) {
		llm := &fakeLLM{err: models.ErrSynthesis}
		_, err := New(llm).Synthesize(context.Background(), "q", models.RetrievalResult{{ChunkID: 0, Score: 0.5}}, chunks)
		assert.ErrorIs(t, err, models.ErrSynthesis)
	})

	t.Run("only a think block", func(t *testing.T) {
		llm := &fakeLLM{text: "<think>nothing useful</think>"}
		_, err := New(llm).Synthesize(context.Background(), "q", models.RetrievalResult{{ChunkID: 0, Score: 0.5}}, chunks)
		assert.ErrorIs(t, err, models.ErrSynthesis)
	})

	t.Run("unknown chunk", func(t *testing.T) {
		llm := &fakeLLM{text: "ANSWER: x"}
		_, err := New(llm).Synthesize(context.Background(), "q", models.RetrievalResult{{ChunkID: 42, Score: 0.5}}, chunks)
		require.Error(t, err)
		assert.False(t, errors.Is(err, models.ErrSynthesis))
		assert.Equal(t, 0, llm.calls)
	})
}

func TestSynthesize_CustomScorer(t *testing.T) {
	llm := &fakeLLM{text: "ANSWER: yes"}
	s := New(llm, WithScorer(func(Signals) float64 { return 7 }))
	ans, err := s.Synthesize(context.Background(), "q", models.RetrievalResult{{ChunkID: 0, Score: 0.5}}, chunks)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ans.Confidence)
}

func TestDefaultScorer(t *testing.T) {
	tests := []struct {
		name string
		in   Signals
		want float64
	}{
		{"top score only", Signals{TopScore: 0.73}, 0.73},
		{"negative similarity", Signals{TopScore: -0.4}, 0},
		{"averaged with declared", Signals{TopScore: 1.0, Declared: 0.6, HasDeclared: true}, 0.8},
		{"declared zero counts", Signals{TopScore: 0.8, Declared: 0, HasDeclared: true}, 0.4},
		{"uncertain cap", Signals{TopScore: 0.9, Uncertain: true}, models.UncertaintyCeiling},
		{"uncertain below cap", Signals{TopScore: 0.1, Uncertain: true}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultScorer(tt.in)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Response
	}{
		{
			name: "all sections",
			in:   "ANSWER: 36 months of continuous coverage.\n\nCONFIDENCE: 0.95\nREASONING: Section 4.1\nsays so.",
			want: Response{Answer: "36 months of continuous coverage.", Confidence: 0.95, HasConfidence: true, Reasoning: "Section 4.1\nsays so."},
		},
		{
			name: "lower case labels",
			in:   "answer: Yes.\nconfidence: .5",
			want: Response{Answer: "Yes.", Confidence: 0.5, HasConfidence: true},
		},
		{
			name: "confidence out of range",
			in:   "ANSWER: Yes.\nCONFIDENCE: 3",
			want: Response{Answer: "Yes.", Confidence: 1, HasConfidence: true},
		},
		{
			name: "multi line answer",
			in:   "ANSWER: Covered when:\n- hospitalised 24h\n- pre-authorised\nREASONING: chunk 2",
			want: Response{Answer: "Covered when:\n- hospitalised 24h\n- pre-authorised", Reasoning: "chunk 2"},
		},
		{
			name: "no sections",
			in:   "<think>\nsteps\n</think>Plain answer.",
			want: Response{Answer: "Plain answer."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseResponse(tt.in))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]QuestionType{
		"What is the grace period for premium payment?": TypeTimePeriod,
		"What does 'hospital' mean? Define it.":         TypeDefinition,
		"Does this policy cover maternity expenses?":    TypeCoverage,
		"Is there a no claim discount?":                 TypeDiscount,
		"Are there sub-limits on room rent?":            TypeLimits,
		"Describe the claim procedure":                  TypeProcess,
		"Who is eligible for the policy?":               TypeRequirements,
		"Which insurer issued the document?":            TypeGeneral,
	}
	for q, want := range tests {
		assert.Equal(t, want, Classify(q), q)
	}
	assert.Empty(t, focusBlock(TypeGeneral))
	assert.Contains(t, focusBlock(TypeDiscount), "Discount percentages")
}
