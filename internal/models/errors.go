package models

import (
	"context"
	"errors"
)

// Error kinds. Wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentFetch    = errors.New("document fetch failed")
	ErrDocumentParse    = errors.New("document parse failed")
	ErrEmbeddingService = errors.New("embedding service error")
	ErrSynthesis        = errors.New("synthesis failed")
	ErrTimeout          = errors.New("timeout")
)

const (
	KindInvalidInput     = "invalid_input"
	KindDocumentFetch    = "document_fetch"
	KindDocumentParse    = "document_parse"
	KindEmbeddingService = "embedding_service"
	KindSynthesis        = "synthesis"
	KindTimeout          = "timeout"
	KindInternal         = "internal"
)

// KindOf maps an error to the kind string used in error descriptors
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrDocumentFetch):
		return KindDocumentFetch
	case errors.Is(err, ErrDocumentParse):
		return KindDocumentParse
	case errors.Is(err, ErrEmbeddingService):
		return KindEmbeddingService
	case errors.Is(err, ErrSynthesis):
		return KindSynthesis
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}
