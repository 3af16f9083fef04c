package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag/internal/models"
)

const policyText = "The grace period for premium payment is thirty days. " +
	"Pre-existing diseases are covered after thirty-six months of continuous coverage. " +
	"Maternity expenses are covered after the policy has been in force for twenty-four months.\n\n" +
	"Cataract surgery has a waiting period of two years. " +
	"Organ donor expenses are covered when the organ is donated to an insured person. " +
	"A no claim discount of five percent is offered on renewal."

// assertCoverage checks offsets, overlap bounds and that chunks tile the text.
func assertCoverage(t *testing.T, text string, chunks []models.Chunk, size, overlap int) {
	t.Helper()
	runes := []rune(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].EndOffset)

	for i, c := range chunks {
		assert.Equal(t, i, c.ID)
		assert.Less(t, c.StartOffset, c.EndOffset)
		assert.LessOrEqual(t, c.Len(), size)
		assert.Equal(t, string(runes[c.StartOffset:c.EndOffset]), c.Text)
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		assert.GreaterOrEqual(t, c.StartOffset, prev.StartOffset)
		// no gap, and the shared span is exactly the configured overlap
		assert.Equal(t, overlap, prev.EndOffset-c.StartOffset)
	}
}

func TestChunk_SingleChunkForShortText(t *testing.T) {
	text := "The policy covers hospitalisation. Claims must be filed in 30 days. Renewal is annual."
	chunks, err := Chunk(text, 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, models.Chunk{ID: 0, Text: text, StartOffset: 0, EndOffset: len([]rune(text))}, chunks[0])
}

func TestChunk_ExactSizeIsOneChunk(t *testing.T) {
	text := strings.Repeat("a", 50)
	chunks, err := Chunk(text, 50, 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestChunk_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{"empty text", "", 100, 10},
		{"blank text", "   \n\n ", 100, 10},
		{"zero size", "text", 0, 0},
		{"negative overlap", "text", 10, -1},
		{"overlap equals size", "text", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk(tt.text, tt.size, tt.overlap)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestChunk_CoverageProperty(t *testing.T) {
	tests := []struct {
		size    int
		overlap int
	}{
		{80, 0},
		{80, 20},
		{120, 30},
		{200, 50},
		{33, 7},
		{10, 9},
	}
	for _, tt := range tests {
		chunks, err := Chunk(policyText, tt.size, tt.overlap)
		require.NoError(t, err)
		assertCoverage(t, policyText, chunks, tt.size, tt.overlap)
		assert.Equal(t, policyText, Reconstruct(chunks))
	}
}

func TestChunk_PrefersSentenceBoundaries(t *testing.T) {
	chunks, err := Chunk(policyText, 200, 20)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks[:len(chunks)-1] {
		trimmed := strings.TrimRight(c.Text, "\n")
		assert.True(t, strings.HasSuffix(trimmed, "."), "chunk %d should end a sentence: %q", c.ID, c.Text)
	}
}

func TestChunk_PrefersParagraphBreak(t *testing.T) {
	first := strings.Repeat("word ", 14) + "end."
	text := first + "\n\nSecond paragraph starts here. It keeps going for a while longer."
	chunks, err := Chunk(text, 90, 0)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, first+"\n\n", chunks[0].Text)
}

func TestChunk_SmallerThanSentence(t *testing.T) {
	text := "Notwithstanding anything contained herein the insurer shall indemnify the insured person for reasonable and customary charges."
	chunks, err := Chunk(text, 25, 5)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assertCoverage(t, text, chunks, 25, 5)
	assert.Equal(t, text, Reconstruct(chunks))
}

func TestChunk_HardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 95)
	chunks, err := Chunk(text, 30, 10)
	require.NoError(t, err)
	assertCoverage(t, text, chunks, 30, 10)
	assert.Equal(t, 30, chunks[0].Len())
}

func TestChunk_UnicodeOffsets(t *testing.T) {
	text := strings.Repeat("Prämie fällig am Monatsersten. ", 6)
	chunks, err := Chunk(text, 40, 8)
	require.NoError(t, err)
	assertCoverage(t, text, chunks, 40, 8)
	assert.Equal(t, text, Reconstruct(chunks))
}

func TestChunk_Deterministic(t *testing.T) {
	a, err := Chunk(policyText, 100, 25)
	require.NoError(t, err)
	b, err := Chunk(policyText, 100, 25)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNew(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := New()
		assert.Equal(t, DefaultChunkSize, c.chunkSize)
		assert.Equal(t, DefaultChunkOverlap, c.overlap)
	})

	t.Run("custom values", func(t *testing.T) {
		c := New(WithChunkSize(500), WithOverlap(50))
		assert.Equal(t, 500, c.chunkSize)
		assert.Equal(t, 50, c.overlap)
	})

	t.Run("zero values ignored", func(t *testing.T) {
		c := New(WithChunkSize(0), WithOverlap(-1))
		assert.Equal(t, DefaultChunkSize, c.chunkSize)
		assert.Equal(t, DefaultChunkOverlap, c.overlap)
	})

	t.Run("chunk uses options", func(t *testing.T) {
		chunks, err := New(WithChunkSize(100), WithOverlap(10)).Chunk(policyText)
		require.NoError(t, err)
		assertCoverage(t, policyText, chunks, 100, 10)
	})
}
