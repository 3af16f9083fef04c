// Package chunker splits normalized document text into overlapping chunks that
// prefer paragraph and sentence boundaries.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"policy-rag/internal/models"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Chunker carries the configured chunk size and overlap.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits text using the configured size and overlap.
func (c *Chunker) Chunk(text string) ([]models.Chunk, error) {
	return Chunk(text, c.chunkSize, c.overlap)
}

// Chunk splits text into chunks of at most chunkSize characters. Every chunk after
// the first starts overlap characters before the end of the previous one, so the
// chunks cover the whole text. Text no longer than chunkSize yields one chunk.
func Chunk(text string, chunkSize, overlap int) ([]models.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidInput, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", models.ErrInvalidInput, chunkSize, overlap)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", models.ErrInvalidInput)
	}

	runes := []rune(text)
	n := len(runes)
	if n <= chunkSize {
		return []models.Chunk{{ID: 0, Text: text, StartOffset: 0, EndOffset: n}}, nil
	}

	chunks := make([]models.Chunk, 0, n/(chunkSize-overlap)+1)
	start := 0
	for {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			// a boundary must leave the next start past this one
			minEnd := max(start+chunkSize/2, start+overlap+1)
			end = boundary(runes, start, end, minEnd)
		}

		chunks = append(chunks, models.Chunk{
			ID:          len(chunks),
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		if end == n {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// boundary returns the exclusive end for the window [start, limit): the last
// paragraph break, else the last sentence end, else the last word end at or
// after minEnd, else limit itself.
func boundary(runes []rune, start, limit, minEnd int) int {
	sentence, word := -1, -1
	for e := limit; e >= minEnd; e-- {
		if isParagraphEnd(runes, e) {
			return e
		}
		if sentence < 0 && isSentenceEnd(runes, start, e) {
			sentence = e
		}
		if word < 0 && isWordEnd(runes, e) {
			word = e
		}
	}
	switch {
	case sentence > 0:
		return sentence
	case word > 0:
		return word
	default:
		return limit
	}
}

func isParagraphEnd(runes []rune, e int) bool {
	return e >= 2 && runes[e-1] == '\n' && runes[e-2] == '\n'
}

func isSentenceEnd(runes []rune, start, e int) bool {
	if e >= len(runes) || !unicode.IsSpace(runes[e]) {
		return false
	}
	i := e - 1
	for i > start && strings.ContainsRune(`"')]”’`, runes[i]) {
		i--
	}
	return i >= start && strings.ContainsRune(".!?", runes[i])
}

func isWordEnd(runes []rune, e int) bool {
	return e < len(runes) && e > 0 && unicode.IsSpace(runes[e]) && !unicode.IsSpace(runes[e-1])
}

// Reconstruct rebuilds the text covered by consecutive chunks, dropping the
// overlapping prefix of each chunk by offset.
func Reconstruct(chunks []models.Chunk) string {
	var b strings.Builder
	covered := 0
	for _, c := range chunks {
		r := []rune(c.Text)
		skip := covered - c.StartOffset
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			b.WriteString(string(r[skip:]))
		}
		if c.EndOffset > covered {
			covered = c.EndOffset
		}
	}
	return b.String()
}
