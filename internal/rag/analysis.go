package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/helper"
	"policy-rag/internal/models"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

const (
	// excerptLimit bounds the document text sent to the LLM for analysis and summaries
	excerptLimit       = 2000
	DefaultSummaryLen  = 500
	keyClauseMaxTokens = 512
)

// Analyze describes the structure of a document and extracts its key clauses
func (r *RAG) Analyze(ctx context.Context, ref string) (*models.DocumentAnalysis, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: document reference is empty", models.ErrInvalidInput)
	}
	prepared, err := r.prepare(ctx, ref)
	if err != nil {
		return nil, err
	}

	doc := prepared.doc
	analysis := &models.DocumentAnalysis{
		DocumentRef:  ref,
		DocumentType: doc.Type,
		TotalChunks:  len(doc.Chunks),
		TotalWords:   len(strings.Fields(doc.Text)),
		KeyClauses:   []string{},
	}
	if n := len(doc.Chunks); n > 0 {
		words := 0
		for _, c := range doc.Chunks {
			words += len(strings.Fields(c.Text))
		}
		analysis.AverageChunkWords = words / n
	}

	if r.deps.LLM == nil {
		return analysis, nil
	}
	prompt := fmt.Sprintf(models.KeyClausesPromptTemplate,
		strings.Join(models.DefaultClauseKeywords, ", "),
		helper.Truncate(doc.Text, excerptLimit, ""),
	)
	completion, err := r.deps.LLM.Complete(ctx, prompt, keyClauseMaxTokens)
	if err != nil {
		return nil, err
	}
	analysis.KeyClauses = splitClauses(completion.Text)

	log.Debug().Str("document_type", string(doc.Type)).Int("chunks", analysis.TotalChunks).Int("key_clauses", len(analysis.KeyClauses)).Msg("Document analyzed")
	return analysis, nil
}

// Summarize returns a summary of at most maxLen characters
func (r *RAG) Summarize(ctx context.Context, ref string, maxLen int) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("%w: document reference is empty", models.ErrInvalidInput)
	}
	if r.deps.LLM == nil {
		return "", fmt.Errorf("%w: no language model configured", models.ErrSynthesis)
	}
	if maxLen <= 0 {
		maxLen = DefaultSummaryLen
	}
	prepared, err := r.prepare(ctx, ref)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(models.SummaryPromptTemplate, maxLen, helper.Truncate(prepared.doc.Text, excerptLimit, ""))
	completion, err := r.deps.LLM.Complete(ctx, prompt, maxLen/2+16)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(thinkTag.ReplaceAllString(completion.Text, ""))
	return helper.Truncate(summary, maxLen, "..."), nil
}

// splitClauses turns a one-clause-per-line completion into a list
func splitClauses(text string) []string {
	text = thinkTag.ReplaceAllString(text, "")
	clauses := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = strings.TrimSpace(line)
		if line != "" {
			clauses = append(clauses, line)
		}
	}
	return clauses
}
