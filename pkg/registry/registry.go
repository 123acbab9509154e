package registry

import (
	"sync"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
)

// DropReasonMemoryLimit labels frames rejected by the global memory cap.
const DropReasonMemoryLimit = "memory-limit"

// DropListener observes frame drops and evictions. Invoked under the
// registry lock; implementations must be fast and non-blocking.
type DropListener func(cameraID, reason string)

// PersistFunc archives a frame. Invoked fire-and-forget on every accepted
// insert; implementations must not block the capture path (submit to a
// worker pool or similar).
type PersistFunc func(*frame.Frame)

// BufferStats describes one camera's ring buffer.
type BufferStats struct {
	CameraID      string
	Capacity      int
	CurrentFrames int
	MemoryUsed    int64
}

// GlobalStats aggregates the registry.
type GlobalStats struct {
	Cameras       int
	TotalFrames   int
	TotalMemory   int64
	MaxMemory     int64
	Subscribers   int
	FramesDropped int64
	FramesEvicted int64
}

// Registry is the single authoritative store of recent per-camera frames
// and the distribution point to all subscribers. One mutex serializes
// inserts, prunes and subscription changes: the global memory ceiling is a
// cross-camera invariant and must be checked in one critical section.
type Registry struct {
	mu sync.Mutex

	buffers         map[string]*ring
	defaultCapacity int

	totalMemory int64
	maxMemory   int64

	// autoPruneTarget > 0 re-enables inserts after a cap rejection by
	// pruning the globally oldest frames down to the target.
	autoPruneTarget int64

	subs map[string]*subscription

	dropListener DropListener
	persist      PersistFunc

	framesDropped int64
	framesEvicted int64
}

// NewRegistry builds a registry with a global memory ceiling and the ring
// capacity used for lazily-created buffers.
func NewRegistry(maxMemory int64, defaultCapacity int) *Registry {
	if defaultCapacity <= 0 {
		defaultCapacity = 100
	}
	return &Registry{
		buffers:         make(map[string]*ring),
		defaultCapacity: defaultCapacity,
		maxMemory:       maxMemory,
		subs:            make(map[string]*subscription),
	}
}

// SetDropListener registers the drop/evict observer.
func (reg *Registry) SetDropListener(l DropListener) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.dropListener = l
}

// SetPersist registers the fire-and-forget frame archiver.
func (reg *Registry) SetPersist(p PersistFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.persist = p
}

// EnableAutoPrune makes a cap rejection prune the globally-oldest frames
// down to target so a memory burst cannot permanently wedge ingestion. The
// rejected frame is still dropped.
func (reg *Registry) EnableAutoPrune(target int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.autoPruneTarget = target
}

// InitBuffer creates an empty ring buffer for a camera. Idempotent: a
// second call for the same camera is a warning, not an error.
func (reg *Registry) InitBuffer(cameraID string, capacity int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.buffers[cameraID]; exists {
		logger.Log.Warnw("buffer already initialized", "camera_id", cameraID)
		return
	}
	if capacity <= 0 {
		capacity = reg.defaultCapacity
	}
	reg.buffers[cameraID] = newRing(cameraID, capacity)
	logger.Log.Infow("buffer initialized",
		"camera_id", cameraID,
		"capacity", capacity)
}

// AddFrame stores a frame and fans it out to live subscribers. The whole
// operation is one critical section: cap check, slot write, memory
// accounting and distribution. It never blocks and never errors for
// capacity; a frame that would breach the global ceiling is dropped and
// reported.
func (reg *Registry) AddFrame(f *frame.Frame) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.totalMemory+int64(f.ByteLength) > reg.maxMemory {
		reg.framesDropped++
		metrics.FramesDropped.WithLabelValues(f.CameraID, DropReasonMemoryLimit).Inc()
		logger.Log.Warnw("frame dropped",
			"camera_id", f.CameraID,
			"reason", DropReasonMemoryLimit,
			"frame_bytes", f.ByteLength,
			"total_memory", reg.totalMemory)
		if reg.dropListener != nil {
			reg.dropListener(f.CameraID, DropReasonMemoryLimit)
		}
		if reg.autoPruneTarget > 0 && reg.totalMemory > reg.autoPruneTarget {
			evicted := reg.pruneLocked(reg.autoPruneTarget)
			logger.Log.Infow("auto-prune after cap rejection",
				"evicted", evicted,
				"total_memory", reg.totalMemory)
		}
		return
	}

	r, ok := reg.buffers[f.CameraID]
	if !ok {
		r = newRing(f.CameraID, reg.defaultCapacity)
		reg.buffers[f.CameraID] = r
	}

	if evicted := r.insert(f); evicted != nil {
		reg.totalMemory -= int64(evicted.ByteLength)
		reg.framesEvicted++
		metrics.FramesEvicted.WithLabelValues(f.CameraID).Inc()
	}
	reg.totalMemory += int64(f.ByteLength)

	metrics.BufferFrames.WithLabelValues(f.CameraID).Set(float64(r.frameCount))
	metrics.BufferMemoryBytes.Set(float64(reg.totalMemory))

	reg.distributeLocked(f)

	if reg.persist != nil {
		reg.persist(f)
	}
}

// distributeLocked fans one frame out to every matching live subscriber.
// A failing subscriber is isolated; delivery to the rest continues.
func (reg *Registry) distributeLocked(f *frame.Frame) {
	for _, sub := range reg.subs {
		if !sub.wantsLive() || !sub.matches(f.CameraID) {
			continue
		}
		sub.deliver(f)
	}
}

// Subscribe registers a subscriber. For ModeBuffered/ModeBoth with
// ReplayCount > 0, up to ReplayCount of the newest buffered frames per
// matching camera are delivered (oldest-of-the-set first) before Subscribe
// returns and before any live frame.
func (reg *Registry) Subscribe(opts SubscribeOptions) (*Handle, error) {
	sub, err := newSubscription(opts)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if sub.mode != ModeLive && sub.replayCount > 0 {
		for id, r := range reg.buffers {
			if !sub.matches(id) {
				continue
			}
			for _, f := range r.frames(sub.replayCount, true) {
				sub.deliver(f)
			}
		}
	}

	reg.subs[sub.id] = sub
	metrics.Subscribers.Set(float64(len(reg.subs)))
	logger.Log.Infow("subscriber registered",
		"subscriber_id", sub.id,
		"mode", sub.mode.String(),
		"cameras", len(sub.cameras),
		"replay_count", sub.replayCount)

	return &Handle{ID: sub.id, reg: reg}, nil
}

func (reg *Registry) unsubscribe(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	sub, ok := reg.subs[id]
	if !ok {
		return
	}
	delete(reg.subs, id)
	sub.close()
	metrics.Subscribers.Set(float64(len(reg.subs)))
	logger.Log.Infow("subscriber removed", "subscriber_id", id)
}

// GetFrames returns up to count frames for a camera, ordered oldest-to-
// newest. newest selects the most recent frames, otherwise the oldest
// retained. Empty when the camera has no buffer or no frames.
func (reg *Registry) GetFrames(cameraID string, count int, newest bool) []*frame.Frame {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.buffers[cameraID]
	if !ok {
		return nil
	}
	return r.frames(count, newest)
}

// GetLatestFrame returns the most recent frame for a camera, or nil.
func (reg *Registry) GetLatestFrame(cameraID string) *frame.Frame {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.buffers[cameraID]
	if !ok {
		return nil
	}
	return r.latest()
}

// PruneToMemory evicts the globally-oldest frame (by ingestion time, then
// sequence) across all cameras until total memory is at or below target, or
// nothing remains. Returns the number evicted.
func (reg *Registry) PruneToMemory(target int64) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.pruneLocked(target)
}

func (reg *Registry) pruneLocked(target int64) int {
	evicted := 0
	for reg.totalMemory > target {
		var victim *ring
		var oldestFrame *frame.Frame
		for _, r := range reg.buffers {
			f := r.oldest()
			if f == nil {
				continue
			}
			if oldestFrame == nil ||
				f.ReceivedAt.Before(oldestFrame.ReceivedAt) ||
				(f.ReceivedAt.Equal(oldestFrame.ReceivedAt) && f.Sequence < oldestFrame.Sequence) {
				victim = r
				oldestFrame = f
			}
		}
		if victim == nil {
			break
		}
		removed := victim.removeOldest()
		reg.totalMemory -= int64(removed.ByteLength)
		reg.framesEvicted++
		evicted++
		metrics.FramesEvicted.WithLabelValues(victim.cameraID).Inc()
		metrics.BufferFrames.WithLabelValues(victim.cameraID).Set(float64(victim.frameCount))
		if reg.dropListener != nil {
			reg.dropListener(victim.cameraID, "pruned")
		}
	}
	metrics.BufferMemoryBytes.Set(float64(reg.totalMemory))
	return evicted
}

// ClearBuffer tears down a camera's ring buffer, subtracting its memory
// from the global total. Buffered history is kept across capture stops, so
// this is an explicit call, never automatic.
func (reg *Registry) ClearBuffer(cameraID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.buffers[cameraID]
	if !ok {
		return
	}
	released := r.clear()
	delete(reg.buffers, cameraID)
	reg.totalMemory -= released
	metrics.BufferFrames.DeleteLabelValues(cameraID)
	metrics.BufferMemoryBytes.Set(float64(reg.totalMemory))
	logger.Log.Infow("buffer cleared",
		"camera_id", cameraID,
		"released_bytes", released)
}

// Stats returns one camera's buffer statistics.
func (reg *Registry) Stats(cameraID string) (BufferStats, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.buffers[cameraID]
	if !ok {
		return BufferStats{}, false
	}
	return BufferStats{
		CameraID:      cameraID,
		Capacity:      r.capacity,
		CurrentFrames: r.frameCount,
		MemoryUsed:    r.memoryUsed,
	}, true
}

// GlobalStats aggregates every buffer plus the subscriber count.
func (reg *Registry) GlobalStats() GlobalStats {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	stats := GlobalStats{
		Cameras:       len(reg.buffers),
		TotalMemory:   reg.totalMemory,
		MaxMemory:     reg.maxMemory,
		Subscribers:   len(reg.subs),
		FramesDropped: reg.framesDropped,
		FramesEvicted: reg.framesEvicted,
	}
	for _, r := range reg.buffers {
		stats.TotalFrames += r.frameCount
	}
	return stats
}
