package capture

import (
	"bytes"
	"errors"
)

var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// ErrFraming means the accumulator grew past its bound without yielding a
// complete SOI/EOI pair. The framer resets itself and the session carries on.
var ErrFraming = errors.New("capture: no valid frame within accumulator bound")

// maxAccumulate bounds the framer's internal buffer. A single 1080p MJPEG
// frame tops out well under 1 MiB, so 16 MiB of markerless data means the
// stream is garbage, not a large frame.
const maxAccumulate = 16 << 20

// Framer reassembles discrete JPEG images from a raw byte stream that
// arrives in arbitrarily sized chunks. Markers may span chunk boundaries;
// partial trailing data is kept for the next Write.
type Framer struct {
	acc []byte
}

func NewFramer() *Framer {
	return &Framer{acc: make([]byte, 0, 512*1024)}
}

// Write appends a chunk and returns every complete frame now available, in
// stream order. Each returned slice is an independent copy. When the
// accumulator overflows without producing a frame, it is reset and
// ErrFraming is returned alongside any frames extracted before the reset.
func (fr *Framer) Write(chunk []byte) ([][]byte, error) {
	fr.acc = append(fr.acc, chunk...)

	var frames [][]byte
	for {
		start := bytes.Index(fr.acc, soiMarker)
		if start < 0 {
			// No SOI anywhere: everything buffered is leading noise,
			// except a trailing 0xFF that might begin a split marker.
			if len(fr.acc) > 0 {
				keep := 0
				if fr.acc[len(fr.acc)-1] == 0xFF {
					keep = 1
				}
				fr.acc = fr.acc[:copy(fr.acc, fr.acc[len(fr.acc)-keep:])]
			}
			break
		}

		end := bytes.Index(fr.acc[start+len(soiMarker):], eoiMarker)
		if end < 0 {
			// Partial frame; drop noise before SOI and wait for more bytes.
			if start > 0 {
				fr.acc = fr.acc[:copy(fr.acc, fr.acc[start:])]
			}
			break
		}
		end += start + len(soiMarker) + len(eoiMarker)

		data := make([]byte, end-start)
		copy(data, fr.acc[start:end])
		frames = append(frames, data)

		fr.acc = fr.acc[:copy(fr.acc, fr.acc[end:])]
	}

	if len(fr.acc) > maxAccumulate {
		fr.Reset()
		return frames, ErrFraming
	}
	return frames, nil
}

// Pending reports how many bytes of incomplete frame data are buffered.
func (fr *Framer) Pending() int {
	return len(fr.acc)
}

// Reset discards any buffered partial data.
func (fr *Framer) Reset() {
	fr.acc = fr.acc[:0]
}
