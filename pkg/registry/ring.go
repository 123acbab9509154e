package registry

import (
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
)

// ring is a fixed-capacity circular frame store. Not safe for concurrent
// use; the registry serializes access.
type ring struct {
	cameraID    string
	capacity    int
	slots       []*frame.Frame
	writeCursor int
	frameCount  int
	memoryUsed  int64
}

func newRing(cameraID string, capacity int) *ring {
	return &ring{
		cameraID: cameraID,
		capacity: capacity,
		slots:    make([]*frame.Frame, capacity),
	}
}

// oldestIndex is valid only when frameCount > 0. While filling the buffer
// writeCursor == frameCount, so this resolves to 0; once full it tracks the
// slot about to be overwritten.
func (r *ring) oldestIndex() int {
	return (r.writeCursor + r.capacity - r.frameCount) % r.capacity
}

// insert writes f at the cursor, returning the evicted frame when the ring
// was full, or nil.
func (r *ring) insert(f *frame.Frame) *frame.Frame {
	var evicted *frame.Frame
	if r.frameCount == r.capacity {
		evicted = r.slots[r.writeCursor]
		r.memoryUsed -= int64(evicted.ByteLength)
	} else {
		r.frameCount++
	}
	r.slots[r.writeCursor] = f
	r.writeCursor = (r.writeCursor + 1) % r.capacity
	r.memoryUsed += int64(f.ByteLength)
	return evicted
}

// removeOldest pops the logically oldest frame, or nil when empty.
func (r *ring) removeOldest() *frame.Frame {
	if r.frameCount == 0 {
		return nil
	}
	idx := r.oldestIndex()
	f := r.slots[idx]
	r.slots[idx] = nil
	r.frameCount--
	r.memoryUsed -= int64(f.ByteLength)
	return f
}

// oldest peeks at the logically oldest frame without removing it.
func (r *ring) oldest() *frame.Frame {
	if r.frameCount == 0 {
		return nil
	}
	return r.slots[r.oldestIndex()]
}

// latest peeks at the most recently inserted frame.
func (r *ring) latest() *frame.Frame {
	if r.frameCount == 0 {
		return nil
	}
	idx := (r.writeCursor + r.capacity - 1) % r.capacity
	return r.slots[idx]
}

// frames returns up to count frames ordered oldest-to-newest. newest=true
// selects the most recent frames, newest=false the oldest retained ones.
func (r *ring) frames(count int, newest bool) []*frame.Frame {
	if count <= 0 || r.frameCount == 0 {
		return nil
	}
	if count > r.frameCount {
		count = r.frameCount
	}

	out := make([]*frame.Frame, 0, count)
	start := 0
	if newest {
		start = r.frameCount - count
	}
	base := r.oldestIndex()
	for i := 0; i < count; i++ {
		out = append(out, r.slots[(base+start+i)%r.capacity])
	}
	return out
}

// clear drops every slot and returns the bytes released.
func (r *ring) clear() int64 {
	released := r.memoryUsed
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.writeCursor = 0
	r.frameCount = 0
	r.memoryUsed = 0
	return released
}
