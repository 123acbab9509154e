package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/mq"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

// Type enumerates pipeline notification events.
type Type string

const (
	TypeFrameDropped Type = "frame-dropped"
	TypeCameraStatus Type = "camera-status"
	TypeCaptureEnded Type = "capture-ended"
)

// CameraState values carried by camera-status events.
type CameraState string

const (
	CameraStateActive  CameraState = "active"
	CameraStateOffline CameraState = "offline"
)

// Event is the JSON envelope published for every pipeline notification.
type Event struct {
	Type      Type        `json:"type"`
	CameraID  string      `json:"camera_id"`
	Reason    string      `json:"reason,omitempty"`
	State     CameraState `json:"state,omitempty"`
	ExitCode  *int        `json:"exit_code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier publishes pipeline events to a broker. Every method is safe when
// the notifier is disabled or the broker is down: failures are logged and
// swallowed, never surfaced to the capture path.
type Notifier struct {
	publisher  mq.Publisher
	routingKey string
	enabled    bool
}

func NewNotifier(publisher mq.Publisher, routingKey string, enabled bool) *Notifier {
	return &Notifier{
		publisher:  publisher,
		routingKey: routingKey,
		enabled:    enabled && publisher != nil,
	}
}

func (n *Notifier) publish(ev Event) {
	if !n.enabled {
		return
	}
	ev.Timestamp = time.Now()

	body, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Errorw("marshal event", "type", ev.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.publisher.Publish(ctx, n.routingKey, body); err != nil {
		logger.Log.Warnw("publish event failed",
			"type", ev.Type,
			"camera_id", ev.CameraID,
			"error", err)
	}
}

// FrameDropped reports a dropped or pruned frame.
func (n *Notifier) FrameDropped(cameraID, reason string) {
	n.publish(Event{Type: TypeFrameDropped, CameraID: cameraID, Reason: reason})
}

// CameraStatus reports a connection-state change.
func (n *Notifier) CameraStatus(cameraID string, state CameraState) {
	n.publish(Event{Type: TypeCameraStatus, CameraID: cameraID, State: state})
}

// CaptureEnded reports session termination with the decoder's exit code.
func (n *Notifier) CaptureEnded(cameraID string, exitCode int) {
	n.publish(Event{Type: TypeCaptureEnded, CameraID: cameraID, ExitCode: &exitCode})
}
