package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/mq"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/registry"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/util"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/worker"
)

// Envelope is the wire form of one frame: minimal metadata plus the payload
// as base64 (optionally zstd-compressed first).
type Envelope struct {
	CameraID   string    `json:"camera_id"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Format     string    `json:"format"`
	Compressed bool      `json:"compressed"`
	Payload    string    `json:"payload"`
}

// Relay bridges the registry's fan-out to a message broker so remote
// viewers can consume frames. It subscribes like any other consumer and
// publishes through the worker pool, never blocking the insert path.
type Relay struct {
	publisher  mq.Publisher
	pool       *worker.Pool
	compressor *util.Compressor
	handle     *registry.Handle
}

// New wires the relay onto the registry. replayCount frames per camera are
// replayed on startup so late-starting brokers still see recent history.
// compressor may be nil.
func New(reg *registry.Registry, publisher mq.Publisher, pool *worker.Pool, compressor *util.Compressor, replayCount int) (*Relay, error) {
	r := &Relay{
		publisher:  publisher,
		pool:       pool,
		compressor: compressor,
	}

	handle, err := reg.Subscribe(registry.SubscribeOptions{
		SubscriberID: "mq-relay",
		Mode:         registry.ModeBoth,
		ReplayCount:  replayCount,
		Callback:     r.onFrame,
		// The broker round-trip must not run under the registry lock.
		QueueSize: 64,
	})
	if err != nil {
		return nil, err
	}
	r.handle = handle
	return r, nil
}

func (r *Relay) onFrame(f *frame.Frame) {
	if !r.pool.Submit(&publishJob{relay: r, frame: f}) {
		metrics.FramesDropped.WithLabelValues(f.CameraID, "relay-queue-full").Inc()
	}
}

// Close detaches the relay from the registry.
func (r *Relay) Close() {
	if r.handle != nil {
		r.handle.Unsubscribe()
	}
}

type publishJob struct {
	relay *Relay
	frame *frame.Frame
}

func (j *publishJob) GetID() string {
	return j.frame.ID
}

func (j *publishJob) Process(ctx context.Context) error {
	f := j.frame

	payload := f.Payload
	compressed := false
	if j.relay.compressor != nil {
		payload = j.relay.compressor.Compress(payload)
		compressed = true
	}

	body, err := json.Marshal(Envelope{
		CameraID:   f.CameraID,
		Sequence:   f.Sequence,
		Timestamp:  f.Timestamp,
		Format:     f.Format,
		Compressed: compressed,
		Payload:    base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return fmt.Errorf("relay: marshal envelope: %w", err)
	}

	start := time.Now()
	if err := j.relay.publisher.Publish(ctx, f.CameraID, body); err != nil {
		logger.Log.Warnw("relay publish failed",
			"camera_id", f.CameraID,
			"sequence", f.Sequence,
			"error", err)
		return err
	}
	metrics.PublishLatency.WithLabelValues("relay").Observe(time.Since(start).Seconds())
	return nil
}
