package capture

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeJPEG builds a minimal marker-delimited frame with a recognizable body.
func makeJPEG(body byte, size int) []byte {
	data := make([]byte, 0, size+4)
	data = append(data, 0xFF, 0xD8)
	for i := 0; i < size; i++ {
		data = append(data, body)
	}
	return append(data, 0xFF, 0xD9)
}

func TestFramerSingleChunk(t *testing.T) {
	fr := NewFramer()

	want := makeJPEG(0x11, 64)
	frames, err := fr.Write(want)

	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, want, frames[0])
	assert.Equal(t, 0, fr.Pending())
}

func TestFramerMultipleFramesOneChunk(t *testing.T) {
	fr := NewFramer()

	f1 := makeJPEG(0x01, 32)
	f2 := makeJPEG(0x02, 48)
	f3 := makeJPEG(0x03, 16)

	var chunk []byte
	chunk = append(chunk, f1...)
	chunk = append(chunk, f2...)
	chunk = append(chunk, f3...)

	frames, err := fr.Write(chunk)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, f1, frames[0])
	assert.Equal(t, f2, frames[1])
	assert.Equal(t, f3, frames[2])
}

// Frames must come out whole and in order no matter how the stream is cut
// into chunks, including cuts in the middle of a marker.
func TestFramerArbitraryChunkBoundaries(t *testing.T) {
	f1 := makeJPEG(0x01, 100)
	f2 := makeJPEG(0x02, 57)
	f3 := makeJPEG(0x03, 211)
	stream := append(append(append([]byte{}, f1...), f2...), f3...)

	for _, chunkSize := range []int{1, 2, 3, 7, 64, 101, len(stream)} {
		fr := NewFramer()
		var got [][]byte
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			frames, err := fr.Write(stream[off:end])
			require.NoError(t, err)
			got = append(got, frames...)
		}

		require.Len(t, got, 3, "chunk size %d", chunkSize)
		assert.Equal(t, f1, got[0], "chunk size %d", chunkSize)
		assert.Equal(t, f2, got[1], "chunk size %d", chunkSize)
		assert.Equal(t, f3, got[2], "chunk size %d", chunkSize)
	}
}

func TestFramerMarkerSpansChunks(t *testing.T) {
	fr := NewFramer()

	f := makeJPEG(0x42, 20)
	// Split right between the two EOI bytes.
	cut := len(f) - 1

	frames, err := fr.Write(f[:cut])
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = fr.Write(f[cut:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0])
}

func TestFramerDiscardsLeadingNoise(t *testing.T) {
	fr := NewFramer()

	f := makeJPEG(0x07, 10)
	chunk := append([]byte{0x00, 0x01, 0x02, 0xAB}, f...)

	frames, err := fr.Write(chunk)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0])
	assert.Equal(t, 0, fr.Pending())
}

func TestFramerKeepsPartialTrailingData(t *testing.T) {
	fr := NewFramer()

	f1 := makeJPEG(0x01, 8)
	f2 := makeJPEG(0x02, 8)
	chunk := append(append([]byte{}, f1...), f2[:5]...)

	frames, err := fr.Write(chunk)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 5, fr.Pending())

	frames, err = fr.Write(f2[5:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, f2, frames[0])
}

func TestFramerOverflowResets(t *testing.T) {
	fr := NewFramer()

	// An SOI with no EOI, larger than the accumulator bound.
	junk := bytes.Repeat([]byte{0x55}, maxAccumulate+1024)
	junk[0] = 0xFF
	junk[1] = 0xD8

	frames, err := fr.Write(junk)
	assert.ErrorIs(t, err, ErrFraming)
	assert.Empty(t, frames)
	assert.Equal(t, 0, fr.Pending())

	// The framer keeps working after the reset.
	f := makeJPEG(0x01, 16)
	frames, err = fr.Write(f)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0])
}

func TestFramerReset(t *testing.T) {
	fr := NewFramer()

	_, err := fr.Write([]byte{0xFF, 0xD8, 0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, 4, fr.Pending())

	fr.Reset()
	assert.Equal(t, 0, fr.Pending())
}
