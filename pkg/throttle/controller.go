package throttle

import (
	"sort"
	"sync"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
)

// ActivityLevel orders camera states from most to least urgent.
type ActivityLevel int

const (
	LevelCritical ActivityLevel = iota
	LevelHigh
	LevelNormal
	LevelLow
)

func (l ActivityLevel) String() string {
	switch l {
	case LevelCritical:
		return "critical"
	case LevelHigh:
		return "high"
	case LevelNormal:
		return "normal"
	case LevelLow:
		return "low"
	default:
		return "unknown"
	}
}

// defaultIdleThreshold is how many consecutive no-activity reports it takes
// before a camera is marked low and stepped one entry slower.
const defaultIdleThreshold = 5

// latencyBudget is the fraction of the current interval a capture may take
// before the controller steps the camera slower regardless of activity.
const latencyBudget = 0.8

// criticalSignals is the fixed allow-list of signal types that force a
// camera straight to the minimum interval.
var criticalSignals = map[string]struct{}{
	"fall":      {},
	"intrusion": {},
	"fire":      {},
	"smoke":     {},
}

// state is the per-camera throttle record. currentIdx always points into
// stepTable, so currentInterval is always a table value.
type state struct {
	currentIdx           int
	level                ActivityLevel
	lastActivityTime     time.Time
	consecutiveIdleTicks int
	resourceSaving       bool
}

// Config sets the shared step table. StepTable must be ascending; BaseIdx
// selects the starting entry. SlowTier marks the interval at which a camera
// counts as resource-saving; zero means the last table entry. IdleThreshold
// is the consecutive-idle-tick count that steps a camera slower; zero means
// the default of 5.
type Config struct {
	StepTable     []time.Duration
	BaseIdx       int
	SlowTier      time.Duration
	IdleThreshold int
}

// Controller decides how fast each camera is captured. It is a discrete
// monotone step function over the table: one entry per decision, except the
// critical override which jumps straight to the minimum.
type Controller struct {
	mu            sync.Mutex
	stepTable     []time.Duration
	baseIdx       int
	slowTier      time.Duration
	idleThreshold int
	cameras       map[string]*state

	// onImmediateCapture fires when TriggerImmediateCapture bypasses the
	// schedule; the capture layer performs the one-off poll.
	onImmediateCapture func(cameraID string)
}

func NewController(cfg Config) *Controller {
	table := cfg.StepTable
	if len(table) == 0 {
		table = []time.Duration{
			100 * time.Millisecond,
			250 * time.Millisecond,
			500 * time.Millisecond,
			time.Second,
			2 * time.Second,
			5 * time.Second,
		}
	}
	sort.Slice(table, func(i, j int) bool { return table[i] < table[j] })

	baseIdx := cfg.BaseIdx
	if baseIdx < 0 || baseIdx >= len(table) {
		baseIdx = len(table) / 2
	}
	slowTier := cfg.SlowTier
	if slowTier <= 0 {
		slowTier = table[len(table)-1]
	}
	idle := cfg.IdleThreshold
	if idle <= 0 {
		idle = defaultIdleThreshold
	}

	return &Controller{
		stepTable:     table,
		baseIdx:       baseIdx,
		slowTier:      slowTier,
		idleThreshold: idle,
		cameras:       make(map[string]*state),
	}
}

// SetImmediateCaptureFunc wires the one-off capture hook.
func (c *Controller) SetImmediateCaptureFunc(fn func(cameraID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onImmediateCapture = fn
}

// StartCamera creates throttle state when streaming starts. Idempotent.
func (c *Controller) StartCamera(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cameras[cameraID]; ok {
		return
	}
	c.cameras[cameraID] = &state{
		currentIdx: c.baseIdx,
		level:      LevelNormal,
	}
	metrics.CaptureInterval.WithLabelValues(cameraID).Set(c.stepTable[c.baseIdx].Seconds())
}

// StopCamera discards throttle state when streaming stops.
func (c *Controller) StopCamera(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cameras, cameraID)
	metrics.CaptureInterval.DeleteLabelValues(cameraID)
}

func (c *Controller) stateFor(cameraID string) *state {
	st, ok := c.cameras[cameraID]
	if !ok {
		st = &state{currentIdx: c.baseIdx, level: LevelNormal}
		c.cameras[cameraID] = st
	}
	return st
}

// ReportActivity feeds one detection result into the state machine.
// Critical signals jump to the minimum interval; generic activity steps one
// entry faster; sustained idleness steps one entry slower.
func (c *Controller) ReportActivity(cameraID string, hasActivity bool, signalTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(cameraID)

	if hasActivity && hasCriticalSignal(signalTypes) {
		st.currentIdx = 0
		st.level = LevelCritical
		st.lastActivityTime = time.Now()
		st.consecutiveIdleTicks = 0
		st.resourceSaving = false
		c.applyLocked(cameraID, st)
		logger.Log.Infow("critical signal, capture at minimum interval",
			"camera_id", cameraID,
			"signals", signalTypes)
		return
	}

	if hasActivity {
		if st.level != LevelHigh {
			st.level = LevelHigh
			c.stepDownLocked(cameraID, st)
		}
		st.lastActivityTime = time.Now()
		st.consecutiveIdleTicks = 0
		st.resourceSaving = false
		return
	}

	st.consecutiveIdleTicks++
	if st.consecutiveIdleTicks >= c.idleThreshold {
		st.level = LevelLow
		c.stepUpLocked(cameraID, st)
		st.consecutiveIdleTicks = 0
	} else if st.level != LevelLow {
		st.level = LevelNormal
	}
}

// RecordCaptureDuration reacts to a slow capture: anything above the
// latency budget of the current interval steps the camera slower so the
// capture backlog cannot grow without bound.
func (c *Controller) RecordCaptureDuration(cameraID string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(cameraID)
	budget := time.Duration(float64(c.stepTable[st.currentIdx]) * latencyBudget)
	if d > budget {
		logger.Log.Warnw("capture exceeded latency budget, slowing down",
			"camera_id", cameraID,
			"duration", d,
			"interval", c.stepTable[st.currentIdx])
		c.stepUpLocked(cameraID, st)
	}
}

// RecordCaptureError steps the camera slower before its next retry.
func (c *Controller) RecordCaptureError(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepUpLocked(cameraID, c.stateFor(cameraID))
}

// TriggerImmediateCapture bypasses the schedule for one urgent capture and
// leaves the camera at the minimum interval in critical state.
func (c *Controller) TriggerImmediateCapture(cameraID string) {
	c.mu.Lock()
	st := c.stateFor(cameraID)
	st.currentIdx = 0
	st.level = LevelCritical
	st.consecutiveIdleTicks = 0
	st.resourceSaving = false
	c.applyLocked(cameraID, st)
	fn := c.onImmediateCapture
	c.mu.Unlock()

	if fn != nil {
		fn(cameraID)
	}
}

// NextInterval is consumed by the capture scheduler before every poll.
func (c *Controller) NextInterval(cameraID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepTable[c.stateFor(cameraID).currentIdx]
}

// Level reports the camera's current activity level.
func (c *Controller) Level(cameraID string) ActivityLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateFor(cameraID).level
}

// ResourceSaving reports whether the camera has backed off to the slow tier.
func (c *Controller) ResourceSaving(cameraID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateFor(cameraID).resourceSaving
}

func (c *Controller) stepDownLocked(cameraID string, st *state) {
	if st.currentIdx > 0 {
		st.currentIdx--
	}
	st.resourceSaving = false
	c.applyLocked(cameraID, st)
}

func (c *Controller) stepUpLocked(cameraID string, st *state) {
	if st.currentIdx < len(c.stepTable)-1 {
		st.currentIdx++
	}
	if c.stepTable[st.currentIdx] >= c.slowTier {
		st.resourceSaving = true
	}
	c.applyLocked(cameraID, st)
}

func (c *Controller) applyLocked(cameraID string, st *state) {
	metrics.CaptureInterval.WithLabelValues(cameraID).Set(c.stepTable[st.currentIdx].Seconds())
}

func hasCriticalSignal(signalTypes []string) bool {
	for _, s := range signalTypes {
		if _, ok := criticalSignals[s]; ok {
			return true
		}
	}
	return false
}
