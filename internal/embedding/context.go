package embedding

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/helper"
	"policy-rag/internal/llmservice"
	"policy-rag/internal/models"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

const (
	contextDocumentLimit = 8000
	contextMaxTokens     = 128
)

// GenerateContext asks the LLM for a short context that situates chunk within document.
// The context is prepended to the chunk text only for embedding.
func GenerateContext(ctx context.Context, llm llmservice.Completer, document, chunk string) (string, error) {
	log.Debug().Str("chunk", helper.Truncate(chunk, 80, "...")).Msg("Generating context for chunk")
	prompt := fmt.Sprintf(models.ContextPromptTemplate, helper.Truncate(document, contextDocumentLimit, "..."), chunk)

	res, err := llm.Complete(ctx, prompt, contextMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(thinkTag.ReplaceAllString(res.Text, "")), nil
}
