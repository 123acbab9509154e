package frame

import (
	"time"

	"github.com/google/uuid"
)

// FormatJPEG is the only payload format produced by the capture pipeline.
// Payloads are opaque bytes; nothing downstream decodes pixels.
const FormatJPEG = "jpeg"

// Frame is the unit that flows through the whole pipeline. It is shared by
// reference between the registry, every subscriber and the archiver, so it
// must never be mutated after construction.
type Frame struct {
	ID         string
	CameraID   string
	Sequence   uint64
	Timestamp  time.Time
	ReceivedAt time.Time
	ByteLength int
	Format     string
	Payload    []byte
	Metadata   map[string]string
}

// New builds a frame for a payload captured now. The payload slice is
// adopted, not copied; callers hand over ownership.
func New(cameraID string, seq uint64, payload []byte, meta map[string]string) *Frame {
	now := time.Now()
	return &Frame{
		ID:         uuid.NewString(),
		CameraID:   cameraID,
		Sequence:   seq,
		Timestamp:  now,
		ReceivedAt: now,
		ByteLength: len(payload),
		Format:     FormatJPEG,
		Payload:    payload,
		Metadata:   meta,
	}
}

// Age is the time elapsed since the frame was ingested.
func (f *Frame) Age() time.Duration {
	return time.Since(f.ReceivedAt)
}
