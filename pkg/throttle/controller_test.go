package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testTable() []time.Duration {
	return []time.Duration{
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
	}
}

func newTestController() *Controller {
	return NewController(Config{StepTable: testTable(), BaseIdx: 2})
}

func TestStartsAtBaseInterval(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	assert.Equal(t, 500*time.Millisecond, c.NextInterval("cam1"))
	assert.Equal(t, LevelNormal, c.Level("cam1"))
}

func TestCriticalSignalJumpsToMinimum(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	// One critical signal, straight to the table minimum: no stepping.
	c.ReportActivity("cam1", true, []string{"fall"})

	assert.Equal(t, 100*time.Millisecond, c.NextInterval("cam1"))
	assert.Equal(t, LevelCritical, c.Level("cam1"))
}

func TestNonCriticalSignalTypesDoNotJump(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	c.ReportActivity("cam1", true, []string{"motion"})

	// Generic activity steps one entry faster, not to the minimum.
	assert.Equal(t, 250*time.Millisecond, c.NextInterval("cam1"))
	assert.Equal(t, LevelHigh, c.Level("cam1"))
}

func TestActivityStepsDownOncePerTransition(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	c.ReportActivity("cam1", true, nil)
	c.ReportActivity("cam1", true, nil)
	c.ReportActivity("cam1", true, nil)

	// Already high: repeated activity must not keep stepping.
	assert.Equal(t, 250*time.Millisecond, c.NextInterval("cam1"))
}

func TestFiveIdleTicksStepUpOnce(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	for i := 0; i < 4; i++ {
		c.ReportActivity("cam1", false, nil)
		assert.Equal(t, 500*time.Millisecond, c.NextInterval("cam1"), "tick %d must not step yet", i+1)
	}

	c.ReportActivity("cam1", false, nil)
	assert.Equal(t, time.Second, c.NextInterval("cam1"))
	assert.Equal(t, LevelLow, c.Level("cam1"))

	// The counter restarts: four more idle ticks still hold.
	for i := 0; i < 4; i++ {
		c.ReportActivity("cam1", false, nil)
	}
	assert.Equal(t, time.Second, c.NextInterval("cam1"))
}

func TestConfiguredIdleThreshold(t *testing.T) {
	c := NewController(Config{StepTable: testTable(), BaseIdx: 2, IdleThreshold: 2})
	c.StartCamera("cam1")

	c.ReportActivity("cam1", false, nil)
	assert.Equal(t, 500*time.Millisecond, c.NextInterval("cam1"))

	c.ReportActivity("cam1", false, nil)
	assert.Equal(t, time.Second, c.NextInterval("cam1"))
}

func TestIntervalCappedAtTableMaximum(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	for i := 0; i < 50; i++ {
		c.ReportActivity("cam1", false, nil)
	}
	assert.Equal(t, 2*time.Second, c.NextInterval("cam1"))
	assert.True(t, c.ResourceSaving("cam1"))
}

func TestIntervalFlooredAtTableMinimum(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	c.ReportActivity("cam1", true, []string{"fall"})
	c.ReportActivity("cam1", true, []string{"fall"})

	assert.Equal(t, 100*time.Millisecond, c.NextInterval("cam1"))
}

func TestSlowCaptureStepsUp(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	// 450ms against a 500ms interval exceeds the 80% budget.
	c.RecordCaptureDuration("cam1", 450*time.Millisecond)
	assert.Equal(t, time.Second, c.NextInterval("cam1"))

	// Well under budget: no change.
	c.RecordCaptureDuration("cam1", 100*time.Millisecond)
	assert.Equal(t, time.Second, c.NextInterval("cam1"))
}

func TestCaptureErrorStepsUp(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	c.RecordCaptureError("cam1")
	assert.Equal(t, time.Second, c.NextInterval("cam1"))
}

func TestTriggerImmediateCapture(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	var captured []string
	c.SetImmediateCaptureFunc(func(cameraID string) {
		captured = append(captured, cameraID)
	})

	c.TriggerImmediateCapture("cam1")

	assert.Equal(t, []string{"cam1"}, captured)
	assert.Equal(t, 100*time.Millisecond, c.NextInterval("cam1"))
	assert.Equal(t, LevelCritical, c.Level("cam1"))
}

func TestActivityResetsResourceSaving(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")

	for i := 0; i < 50; i++ {
		c.ReportActivity("cam1", false, nil)
	}
	assert.True(t, c.ResourceSaving("cam1"))

	c.ReportActivity("cam1", true, nil)
	assert.False(t, c.ResourceSaving("cam1"))
}

func TestStopCameraDiscardsState(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")
	c.ReportActivity("cam1", true, []string{"fall"})

	c.StopCamera("cam1")

	// A restarted camera begins fresh at the base interval.
	c.StartCamera("cam1")
	assert.Equal(t, 500*time.Millisecond, c.NextInterval("cam1"))
	assert.Equal(t, LevelNormal, c.Level("cam1"))
}

func TestCamerasAreIndependent(t *testing.T) {
	c := newTestController()
	c.StartCamera("cam1")
	c.StartCamera("cam2")

	c.ReportActivity("cam1", true, []string{"fall"})

	assert.Equal(t, 100*time.Millisecond, c.NextInterval("cam1"))
	assert.Equal(t, 500*time.Millisecond, c.NextInterval("cam2"))
}
