package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewFillsMetadata(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}
	f := New("cam1", 7, payload, map[string]string{"source": "rtsp"})

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "cam1", f.CameraID)
	assert.Equal(t, uint64(7), f.Sequence)
	assert.Equal(t, len(payload), f.ByteLength)
	assert.Equal(t, FormatJPEG, f.Format)
	assert.Equal(t, "rtsp", f.Metadata["source"])
	assert.WithinDuration(t, time.Now(), f.ReceivedAt, time.Second)
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New("cam1", 0, nil, nil)
	b := New("cam1", 1, nil, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAge(t *testing.T) {
	f := New("cam1", 0, nil, nil)
	f.ReceivedAt = time.Now().Add(-2 * time.Second)
	assert.GreaterOrEqual(t, f.Age(), 2*time.Second)
}
