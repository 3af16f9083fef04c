package models

import "strings"

// DocumentType identifies the container format a document was extracted from
type DocumentType string

const (
	DocumentTypePDF      DocumentType = "pdf"
	DocumentTypeDOCX     DocumentType = "docx"
	DocumentTypePPTX     DocumentType = "pptx"
	DocumentTypeXLSX     DocumentType = "xlsx"
	DocumentTypeMarkdown DocumentType = "markdown"
	DocumentTypeText     DocumentType = "text"
)

// Document holds the normalized text of a fetched document and the chunks derived from it
type Document struct {
	Ref    string       `json:"ref"`
	Type   DocumentType `json:"type"`
	Text   string       `json:"-"`
	Chunks []Chunk      `json:"-"`
}

// Chunk is a contiguous span of a document's normalized text.
// Offsets are character (rune) positions, EndOffset is exclusive.
type Chunk struct {
	ID          int       `json:"id"`
	Text        string    `json:"text"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Embedding   []float32 `json:"-"`
}

// Len returns the chunk length in characters
func (c Chunk) Len() int {
	return c.EndOffset - c.StartOffset
}

// Question is a single entry of an incoming batch
type Question struct {
	Text string `json:"text"`
}

// Normalized returns the question text lower-cased with whitespace collapsed,
// used as the answer cache key.
func (q Question) Normalized() string {
	return strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
}

// Hit is a single retrieved chunk with its cosine similarity to the question
type Hit struct {
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// RetrievalResult is ordered by descending score, ties broken by ascending chunk ID
type RetrievalResult []Hit

// TopScore returns the best similarity score, or 0 for an empty result
func (r RetrievalResult) TopScore() float64 {
	if len(r) == 0 {
		return 0
	}
	return r[0].Score
}

// ChunkIDs returns the chunk IDs in retrieval order
func (r RetrievalResult) ChunkIDs() []int {
	ids := make([]int, 0, len(r))
	for _, h := range r {
		ids = append(ids, h.ChunkID)
	}
	return ids
}
