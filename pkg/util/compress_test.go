package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	c, err := NewCompressor(3)
	require.NoError(t, err)

	original := bytes.Repeat([]byte("overhead frame payload "), 200)
	compressed := c.Compress(original)
	assert.Less(t, len(compressed), len(original))

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not zstd at all"))
	assert.Error(t, err)
}

func TestNewCompressorInvalidLevelStillWorks(t *testing.T) {
	// The zstd library clamps out-of-range levels rather than failing.
	c, err := NewCompressor(99)
	require.NoError(t, err)

	out := c.Compress([]byte("data"))
	restored, err := Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), restored)
}
