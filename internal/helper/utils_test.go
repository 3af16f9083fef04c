package helper

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	require.NoError(t, err)
	b, err := GenerateUUID()
	require.NoError(t, err)

	_, err = uuid.Parse(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]int{"chunks": 3})
	assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10, "..."))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7, "..."))
	assert.Equal(t, "héll…", Truncate("héllo wörld", 5, "…"))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0, "..."))
}
