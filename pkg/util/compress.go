package util

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor wraps a reusable zstd encoder. JPEG payloads rarely shrink
// much, so the relay only enables this when the wire is the bottleneck.
type Compressor struct {
	encoder *zstd.Encoder
	level   int
}

// NewCompressor creates a compressor at the given zstd level (1..22).
func NewCompressor(level int) (*Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd new writer: %w", err)
	}
	return &Compressor{encoder: enc, level: level}, nil
}

func (c *Compressor) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
}

func Decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
