package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBuckets(t *testing.T) {
	assert.Equal(t, QualityGood, classify(50*time.Millisecond))
	assert.Equal(t, QualityGood, classify(199*time.Millisecond))
	assert.Equal(t, QualityMedium, classify(200*time.Millisecond))
	assert.Equal(t, QualityMedium, classify(500*time.Millisecond))
	assert.Equal(t, QualityPoor, classify(501*time.Millisecond))
	assert.Equal(t, QualityPoor, classify(3*time.Second))
}

func TestPoorLinkRequestsBufferedMode(t *testing.T) {
	bufferedRequests, liveRequests := 0, 0
	qc := NewQualityClassifier("v1",
		func() { bufferedRequests++ },
		func() { liveRequests++ },
	)

	qc.Observe(800 * time.Millisecond)

	assert.Equal(t, 1, bufferedRequests)
	assert.Equal(t, 0, liveRequests)
	assert.Equal(t, DeliveryBuffered, qc.Mode())
	assert.Equal(t, QualityPoor, qc.Quality())
}

func TestRecoveryRequestsLiveMode(t *testing.T) {
	bufferedRequests, liveRequests := 0, 0
	qc := NewQualityClassifier("v1",
		func() { bufferedRequests++ },
		func() { liveRequests++ },
	)

	qc.Observe(800 * time.Millisecond)
	qc.Observe(100 * time.Millisecond)

	assert.Equal(t, 1, bufferedRequests)
	assert.Equal(t, 1, liveRequests)
	assert.Equal(t, DeliveryLive, qc.Mode())
}

func TestMediumQualityDoesNotSwitch(t *testing.T) {
	bufferedRequests, liveRequests := 0, 0
	qc := NewQualityClassifier("v1",
		func() { bufferedRequests++ },
		func() { liveRequests++ },
	)

	qc.Observe(300 * time.Millisecond)
	assert.Equal(t, 0, bufferedRequests)
	assert.Equal(t, 0, liveRequests)
	assert.Equal(t, DeliveryLive, qc.Mode())

	// poor -> medium while buffered: stays buffered until good.
	qc.Observe(time.Second)
	qc.Observe(300 * time.Millisecond)
	assert.Equal(t, 1, bufferedRequests)
	assert.Equal(t, 0, liveRequests)
	assert.Equal(t, DeliveryBuffered, qc.Mode())
}

func TestSustainedPoorDoesNotRepeatRequest(t *testing.T) {
	bufferedRequests := 0
	qc := NewQualityClassifier("v1", func() { bufferedRequests++ }, func() {})

	qc.Observe(time.Second)
	qc.Observe(time.Second)
	qc.Observe(2 * time.Second)

	assert.Equal(t, 1, bufferedRequests)
}
