// Package synthesizer turns retrieved chunks into a grounded answer with a confidence score.
package synthesizer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/llmservice"
	"policy-rag/internal/models"
)

const DefaultMaxTokens = 1024

var (
	thinkTagRe  = regexp.MustCompile(models.ThinkTag)
	answerRe    = regexp.MustCompile(models.AnswerSection)
	confidentRe = regexp.MustCompile(models.ConfidenceLine)
	reasoningRe = regexp.MustCompile(models.ReasoningSection)
)

// ChunkLookup resolves retrieved chunk IDs to their text
type ChunkLookup interface {
	Chunk(id int) (models.Chunk, bool)
}

// Signals are the inputs available to a confidence Scorer
type Signals struct {
	// TopScore is the best retrieval similarity
	TopScore float64
	// Uncertain is set when the answer contains an uncertainty marker
	Uncertain bool
	// Declared is the CONFIDENCE the model reported, valid when HasDeclared is set
	Declared    float64
	HasDeclared bool
}

// Scorer maps signals to a confidence in [0, 1]
type Scorer func(Signals) float64

// DefaultScorer starts from the top retrieval score, averages in the model's own
// confidence when it gave one and caps uncertain answers at UncertaintyCeiling.
func DefaultScorer(s Signals) float64 {
	c := clamp(s.TopScore)
	if s.HasDeclared {
		c = (c + clamp(s.Declared)) / 2
	}
	if s.Uncertain && c > models.UncertaintyCeiling {
		c = models.UncertaintyCeiling
	}
	return c
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

type Synthesizer struct {
	llm       llmservice.Completer
	maxTokens int
	scorer    Scorer
}

type Option func(*Synthesizer)

func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithScorer(scorer Scorer) Option {
	return func(s *Synthesizer) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

func New(llm llmservice.Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		llm:       llm,
		maxTokens: DefaultMaxTokens,
		scorer:    DefaultScorer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize answers question from the retrieved chunks. An empty retrieval
// yields the insufficient-context answer without calling the LLM.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, retrieval models.RetrievalResult, lookup ChunkLookup) (*models.Answer, error) {
	if len(retrieval) == 0 {
		return &models.Answer{
			Question:       question,
			Text:           models.InsufficientContextAnswer,
			Confidence:     models.InsufficientContextConfidence,
			SourceChunkIDs: []int{},
		}, nil
	}

	prompt, err := BuildPrompt(question, retrieval, lookup)
	if err != nil {
		return nil, err
	}

	completion, err := s.llm.Complete(ctx, prompt, s.maxTokens)
	if err != nil {
		return nil, err
	}

	parsed := ParseResponse(completion.Text)
	if parsed.Answer == "" {
		return nil, fmt.Errorf("%w: completion has no answer text", models.ErrSynthesis)
	}

	confidence := s.scorer(Signals{
		TopScore:    retrieval.TopScore(),
		Uncertain:   isUncertain(parsed.Answer),
		Declared:    parsed.Confidence,
		HasDeclared: parsed.HasConfidence,
	})

	log.Debug().Str("question", question).Float64("confidence", confidence).Int("sources", len(retrieval)).Msg("Synthesized answer")
	return &models.Answer{
		Question:       question,
		Text:           parsed.Answer,
		Confidence:     clamp(confidence),
		SourceChunkIDs: retrieval.ChunkIDs(),
		Reasoning:      parsed.Reasoning,
		TokenUsage:     completion.Usage,
	}, nil
}

// BuildPrompt renders the grounded prompt with the chunks in retrieval order
func BuildPrompt(question string, retrieval models.RetrievalResult, lookup ChunkLookup) (string, error) {
	excerpts := make([]string, 0, len(retrieval))
	for _, hit := range retrieval {
		chunk, ok := lookup.Chunk(hit.ChunkID)
		if !ok {
			return "", fmt.Errorf("retrieved chunk %d is not in the index", hit.ChunkID)
		}
		excerpts = append(excerpts, fmt.Sprintf("[chunk %d] (similarity %.3f)\n%s", chunk.ID, hit.Score, chunk.Text))
	}

	qtype := Classify(question)
	return fmt.Sprintf(models.AnswerPromptTemplate,
		strings.ToUpper(string(qtype)),
		question,
		focusBlock(qtype),
		strings.Join(excerpts, models.ContextSeparator),
	), nil
}

// Response is the parsed form of an ANSWER/CONFIDENCE/REASONING completion
type Response struct {
	Answer        string
	Confidence    float64
	HasConfidence bool
	Reasoning     string
}

// ParseResponse extracts the sections of a completion. Text without an ANSWER
// section is taken as the answer as a whole.
func ParseResponse(text string) Response {
	text = strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))

	var r Response
	if m := answerRe.FindStringSubmatch(text); m != nil {
		r.Answer = strings.TrimSpace(m[1])
	} else {
		r.Answer = text
	}
	if m := confidentRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			r.Confidence = clamp(v)
			r.HasConfidence = true
		}
	}
	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		r.Reasoning = strings.TrimSpace(m[1])
	}
	return r
}

func isUncertain(answer string) bool {
	a := strings.ToLower(answer)
	for _, marker := range models.UncertaintyMarkers {
		if strings.Contains(a, marker) {
			return true
		}
	}
	return false
}
