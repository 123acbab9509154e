package playback

import (
	"context"
	"sync"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
)

const (
	// DropReasonOverflow labels frames pushed out of a full queue.
	DropReasonOverflow = "overflow"
	// DropReasonStale labels frames too old to display.
	DropReasonStale = "stale"

	defaultTargetFPS  = 15
	minFPS            = 10
	defaultMaxFPS     = 30
	defaultFPSStep    = 2
	defaultBufferSize = 30
	defaultMaxAge     = time.Second

	// highWatermark is the occupancy fraction above which the buffer asks
	// for a slower rate.
	highWatermark = 0.8
	// lowOccupancy is the absolute queue length below which the buffer may
	// speed back up.
	lowOccupancy = 5
)

// JitterConfig tunes one viewer's buffer. Zero values take defaults.
type JitterConfig struct {
	ViewerID      string
	TargetFPS     int
	MaxFPS        int
	FPSStep       int
	MaxBufferSize int
	MaxFrameAge   time.Duration
	// Display presents one frame to the viewer. Required.
	Display func(*frame.Frame)
}

type queued struct {
	frame     *frame.Frame
	arrivedAt time.Time
}

// JitterBuffer smooths irregular frame arrival into a steady display
// cadence for one viewer, adapting its target rate to queue occupancy and
// measured display throughput.
type JitterBuffer struct {
	viewerID      string
	maxBufferSize int
	maxFrameAge   time.Duration
	maxFPS        int
	fpsStep       int
	display       func(*frame.Frame)

	mu              sync.Mutex
	queue           []queued
	targetFPS       int
	dropCount       int64
	displayedWindow int // frames displayed since last adaptive eval
}

func NewJitterBuffer(cfg JitterConfig) *JitterBuffer {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = defaultTargetFPS
	}
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = defaultMaxFPS
	}
	if cfg.FPSStep <= 0 {
		cfg.FPSStep = defaultFPSStep
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = defaultBufferSize
	}
	if cfg.MaxFrameAge <= 0 {
		cfg.MaxFrameAge = defaultMaxAge
	}
	return &JitterBuffer{
		viewerID:      cfg.ViewerID,
		maxBufferSize: cfg.MaxBufferSize,
		maxFrameAge:   cfg.MaxFrameAge,
		maxFPS:        cfg.MaxFPS,
		fpsStep:       cfg.FPSStep,
		display:       cfg.Display,
		targetFPS:     cfg.TargetFPS,
	}
}

// Enqueue appends an arriving frame. A full queue drops its oldest entry to
// make room.
func (jb *JitterBuffer) Enqueue(f *frame.Frame) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	jb.queue = append(jb.queue, queued{frame: f, arrivedAt: time.Now()})
	if len(jb.queue) > jb.maxBufferSize {
		jb.queue = jb.queue[1:]
		jb.dropCount++
		metrics.JitterDrops.WithLabelValues(jb.viewerID, DropReasonOverflow).Inc()
	}
}

// Tick runs one display cycle: dequeue the oldest frame and present it, or
// discard it without output when it has aged past maxFrameAge. A frame is
// never displayed late.
func (jb *JitterBuffer) Tick() {
	jb.mu.Lock()
	if len(jb.queue) == 0 {
		jb.mu.Unlock()
		return
	}
	head := jb.queue[0]
	jb.queue = jb.queue[1:]

	if time.Since(head.arrivedAt) > jb.maxFrameAge {
		jb.dropCount++
		metrics.JitterDrops.WithLabelValues(jb.viewerID, DropReasonStale).Inc()
		jb.mu.Unlock()
		return
	}
	jb.displayedWindow++
	display := jb.display
	jb.mu.Unlock()

	if display != nil {
		display(head.frame)
	}
}

// Evaluate runs one adaptive rate decision, normally once per second: back
// off when the queue is filling up, speed up when it is near-empty and the
// display loop is visibly underrunning the target.
func (jb *JitterBuffer) Evaluate() {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	occupancy := len(jb.queue)
	displayed := jb.displayedWindow
	jb.displayedWindow = 0

	switch {
	case float64(occupancy) >= highWatermark*float64(jb.maxBufferSize):
		if jb.targetFPS-jb.fpsStep >= minFPS {
			jb.targetFPS -= jb.fpsStep
		} else {
			jb.targetFPS = minFPS
		}
		logger.Log.Debugw("jitter buffer backing off",
			"viewer_id", jb.viewerID,
			"occupancy", occupancy,
			"target_fps", jb.targetFPS)

	case occupancy < lowOccupancy && float64(displayed) < 0.8*float64(jb.targetFPS):
		if jb.targetFPS+jb.fpsStep <= jb.maxFPS {
			jb.targetFPS += jb.fpsStep
		} else {
			jb.targetFPS = jb.maxFPS
		}
	}
}

// Run drives the display and adaptive loops until ctx is cancelled. The
// display cadence follows 1000/targetFPS ms and is re-read after every tick
// so rate changes take effect immediately.
func (jb *JitterBuffer) Run(ctx context.Context) {
	eval := time.NewTicker(time.Second)
	defer eval.Stop()

	timer := time.NewTimer(jb.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-eval.C:
			jb.Evaluate()
		case <-timer.C:
			jb.Tick()
			timer.Reset(jb.interval())
		}
	}
}

func (jb *JitterBuffer) interval() time.Duration {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return time.Second / time.Duration(jb.targetFPS)
}

// TargetFPS reports the current adaptive display rate.
func (jb *JitterBuffer) TargetFPS() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.targetFPS
}

// Len reports current queue occupancy.
func (jb *JitterBuffer) Len() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return len(jb.queue)
}

// Drops reports the total frames dropped (overflow + stale).
func (jb *JitterBuffer) Drops() int64 {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.dropCount
}
