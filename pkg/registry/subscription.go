package registry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

// Mode selects which deliveries a subscriber receives.
type Mode int

const (
	// ModeLive delivers frames as they are inserted.
	ModeLive Mode = iota
	// ModeBuffered delivers only the replay of already-buffered frames.
	ModeBuffered
	// ModeBoth replays buffered history, then continues live.
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeBuffered:
		return "buffered"
	case ModeBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseMode maps a config string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "live":
		return ModeLive, nil
	case "buffered":
		return ModeBuffered, nil
	case "both":
		return ModeBoth, nil
	default:
		return ModeLive, fmt.Errorf("registry: unknown subscription mode %q", s)
	}
}

// Callback receives one frame. It must not retain or mutate the payload
// beyond the pipeline's shared-ownership contract.
type Callback func(*frame.Frame)

// SubscribeOptions describe one subscriber.
type SubscribeOptions struct {
	// SubscriberID is optional; a uuid is assigned when empty.
	SubscriberID string
	// Cameras filters delivery; empty means all cameras.
	Cameras []string
	Mode    Mode
	// ReplayCount is how many buffered frames per camera to replay on
	// subscribe for ModeBuffered/ModeBoth.
	ReplayCount int
	Callback    Callback
	// QueueSize > 0 decouples this subscriber from the insert path: frames
	// are handed to a per-subscriber queue drained by its own goroutine,
	// preserving order. When the queue is full the frame is dropped for
	// this subscriber only. Zero means synchronous delivery.
	QueueSize int
}

var errNilCallback = errors.New("registry: subscription callback is nil")

type subscription struct {
	id          string
	cameras     map[string]struct{}
	mode        Mode
	replayCount int
	callback    Callback

	queue   chan *frame.Frame
	done    chan struct{}
	dropped atomic.Int64
}

func newSubscription(opts SubscribeOptions) (*subscription, error) {
	if opts.Callback == nil {
		return nil, errNilCallback
	}
	id := opts.SubscriberID
	if id == "" {
		id = uuid.NewString()
	}

	sub := &subscription{
		id:          id,
		mode:        opts.Mode,
		replayCount: opts.ReplayCount,
		callback:    opts.Callback,
	}
	if len(opts.Cameras) > 0 {
		sub.cameras = make(map[string]struct{}, len(opts.Cameras))
		for _, id := range opts.Cameras {
			sub.cameras[id] = struct{}{}
		}
	}
	if opts.QueueSize > 0 {
		sub.queue = make(chan *frame.Frame, opts.QueueSize)
		sub.done = make(chan struct{})
		go sub.pump()
	}
	return sub, nil
}

// matches reports whether this subscriber wants frames from cameraID.
func (s *subscription) matches(cameraID string) bool {
	if len(s.cameras) == 0 {
		return true
	}
	_, ok := s.cameras[cameraID]
	return ok
}

// wantsLive reports whether inserts should be fanned out to this subscriber.
func (s *subscription) wantsLive() bool {
	return s.mode == ModeLive || s.mode == ModeBoth
}

// deliver hands one frame to the subscriber, via its queue when decoupled.
// Synchronous callbacks run under the registry lock, so a panicking
// subscriber must not corrupt registry state or starve its peers.
func (s *subscription) deliver(f *frame.Frame) {
	if s.queue != nil {
		select {
		case s.queue <- f:
		default:
			s.dropped.Add(1)
		}
		return
	}
	s.invoke(f)
}

func (s *subscription) invoke(f *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorw("subscriber callback panicked",
				"subscriber_id", s.id,
				"camera_id", f.CameraID,
				"panic", r)
		}
	}()
	s.callback(f)
}

func (s *subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.queue:
			s.invoke(f)
		}
	}
}

func (s *subscription) close() {
	if s.done != nil {
		close(s.done)
	}
}

// Handle lets a subscriber remove itself.
type Handle struct {
	ID  string
	reg *Registry
}

// Unsubscribe removes the registration. Safe to call more than once.
func (h *Handle) Unsubscribe() {
	h.reg.unsubscribe(h.ID)
}
