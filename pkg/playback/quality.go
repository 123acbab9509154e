package playback

import (
	"sync"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

// Quality buckets measured end-to-end latency.
type Quality int

const (
	QualityGood Quality = iota
	QualityMedium
	QualityPoor
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityMedium:
		return "medium"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

const (
	goodLatencyMax   = 200 * time.Millisecond
	mediumLatencyMax = 500 * time.Millisecond
)

// DeliveryMode mirrors the upstream subscription mode a viewer is in.
type DeliveryMode int

const (
	DeliveryLive DeliveryMode = iota
	DeliveryBuffered
)

// QualityClassifier buckets latency samples and requests delivery-mode
// switches upstream: live viewers on a poor link move to buffered delivery,
// buffered viewers on a recovered link move back to live.
type QualityClassifier struct {
	viewerID string

	mu      sync.Mutex
	quality Quality
	mode    DeliveryMode

	// onRequestBuffered / onRequestLive ask the transport layer to
	// resubscribe with the other mode.
	onRequestBuffered func()
	onRequestLive     func()
}

func NewQualityClassifier(viewerID string, onRequestBuffered, onRequestLive func()) *QualityClassifier {
	return &QualityClassifier{
		viewerID:          viewerID,
		quality:           QualityGood,
		mode:              DeliveryLive,
		onRequestBuffered: onRequestBuffered,
		onRequestLive:     onRequestLive,
	}
}

func classify(latency time.Duration) Quality {
	switch {
	case latency < goodLatencyMax:
		return QualityGood
	case latency <= mediumLatencyMax:
		return QualityMedium
	default:
		return QualityPoor
	}
}

// Observe feeds one latency measurement through the classifier.
func (qc *QualityClassifier) Observe(latency time.Duration) {
	qc.mu.Lock()

	old := qc.quality
	qc.quality = classify(latency)

	var request func()
	switch {
	case qc.quality == QualityPoor && old != QualityPoor && qc.mode == DeliveryLive:
		qc.mode = DeliveryBuffered
		request = qc.onRequestBuffered
	case qc.quality == QualityGood && old != QualityGood && qc.mode == DeliveryBuffered:
		qc.mode = DeliveryLive
		request = qc.onRequestLive
	}
	quality := qc.quality
	mode := qc.mode
	qc.mu.Unlock()

	if request != nil {
		logger.Log.Infow("connection quality transition, switching delivery mode",
			"viewer_id", qc.viewerID,
			"quality", quality.String(),
			"mode", mode)
		request()
	}
}

// Quality reports the current bucket.
func (qc *QualityClassifier) Quality() Quality {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.quality
}

// Mode reports the delivery mode the classifier believes the viewer is in.
func (qc *QualityClassifier) Mode() DeliveryMode {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.mode
}
