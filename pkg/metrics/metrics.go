package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overhead_monitor_frames_captured_total",
			Help: "Total frames extracted from camera streams",
		},
		[]string{"camera_id"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overhead_monitor_frames_dropped_total",
			Help: "Total frames dropped, by reason",
		},
		[]string{"camera_id", "reason"},
	)

	FramesEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overhead_monitor_frames_evicted_total",
			Help: "Total frames evicted from ring buffers",
		},
		[]string{"camera_id"},
	)

	CaptureLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overhead_monitor_capture_latency_seconds",
			Help:    "Latency of a single frame capture/poll",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"camera_id"},
	)

	BufferFrames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overhead_monitor_buffer_frames",
			Help: "Frames currently held per camera ring buffer",
		},
		[]string{"camera_id"},
	)

	BufferMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overhead_monitor_buffer_memory_bytes",
			Help: "Total bytes held across all ring buffers",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overhead_monitor_subscribers",
			Help: "Registered frame subscribers",
		},
	)

	CaptureInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overhead_monitor_capture_interval_seconds",
			Help: "Current throttled capture interval per camera",
		},
		[]string{"camera_id"},
	)

	CameraConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overhead_monitor_camera_connected",
			Help: "Camera connection status (0=disconnected, 1=connected)",
		},
		[]string{"camera_id"},
	)

	JitterDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overhead_monitor_jitter_drops_total",
			Help: "Frames dropped by playback jitter buffers, by reason",
		},
		[]string{"viewer_id", "reason"},
	)

	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overhead_monitor_storage_operations_total",
			Help: "Frame archive operations, by status",
		},
		[]string{"operation", "status"},
	)

	PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overhead_monitor_publish_latency_seconds",
			Help:    "Latency of relay/event publishes",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"publisher_type"},
	)

	ProcessMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overhead_monitor_process_memory_bytes",
			Help: "Resident set size of the monitor process",
		},
	)
)
