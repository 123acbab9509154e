package capture

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
)

func TestSnapshotSourceMustBeHTTP(t *testing.T) {
	sess := NewSession("cam1", "rtsp://example/stream",
		Options{Snapshot: true},
		Handlers{},
		nil)

	err := sess.Start(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.False(t, sess.IsRunning())
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	sess := NewSession("cam1", "http://example/snap.jpg", Options{Snapshot: true}, Handlers{}, nil)
	assert.NotPanics(t, sess.Stop)
}

func TestTriggerCaptureNeverBlocks(t *testing.T) {
	sess := NewSession("cam1", "http://example/snap.jpg", Options{Snapshot: true}, Handlers{}, nil)
	for i := 0; i < 10; i++ {
		sess.TriggerCapture()
	}
}

func TestSnapshotPolling(t *testing.T) {
	image := makeJPEG(0x33, 128)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(image)
	}))
	defer server.Close()

	var mu sync.Mutex
	var got []*frame.Frame
	handlers := Handlers{
		OnFrame: func(f *frame.Frame) {
			mu.Lock()
			got = append(got, f)
			mu.Unlock()
		},
	}
	opts := Options{
		Snapshot: true,
		Interval: func() time.Duration { return 10 * time.Millisecond },
	}

	sess := NewSession("cam1", server.URL, opts, handlers, nil)
	require.NoError(t, sess.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	sess.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 3)
	for i, f := range got {
		assert.Equal(t, "cam1", f.CameraID)
		assert.Equal(t, uint64(i), f.Sequence, "sequence numbers are strictly increasing from zero")
		assert.Equal(t, image, f.Payload)
	}
}

func TestNoFramesAfterStop(t *testing.T) {
	image := makeJPEG(0x44, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(image)
	}))
	defer server.Close()

	var mu sync.Mutex
	frames := 0
	stopped := false
	handlers := Handlers{
		OnFrame: func(*frame.Frame) {
			mu.Lock()
			assert.False(t, stopped, "frame emitted after Stop returned")
			frames++
			mu.Unlock()
		},
	}
	opts := Options{
		Snapshot: true,
		Interval: func() time.Duration { return 5 * time.Millisecond },
	}

	sess := NewSession("cam1", server.URL, opts, handlers, nil)
	require.NoError(t, sess.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	sess.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)
}

func TestSnapshotRejectsNonJPEGBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not a camera</html>"))
	}))
	defer server.Close()

	var mu sync.Mutex
	var errs []error
	frames := 0
	handlers := Handlers{
		OnFrame: func(*frame.Frame) {
			mu.Lock()
			frames++
			mu.Unlock()
		},
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}
	opts := Options{
		Snapshot: true,
		Interval: func() time.Duration { return 5 * time.Millisecond },
	}

	sess := NewSession("cam1", server.URL, opts, handlers, nil)
	require.NoError(t, sess.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(errs)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	sess.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, errs)
	assert.Equal(t, 0, frames)
}

func TestStopWaitsForDecoderReap(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())

	_, cancel := context.WithCancel(context.Background())
	sess := NewSession("cam1", "rtsp://example/stream", Options{}, Handlers{}, nil)
	reaped := make(chan struct{})
	sess.mu.Lock()
	sess.running = true
	sess.cmd = cmd
	sess.reaped = reaped
	sess.cancel = cancel
	sess.mu.Unlock()

	// Wait is owned by the read loop; it signals the reap through the
	// channel instead of Stop inspecting process state concurrently.
	go func() {
		_ = cmd.Wait()
		close(reaped)
	}()

	start := time.Now()
	sess.Stop()
	assert.Less(t, time.Since(start), stopGrace)
	assert.False(t, sess.IsRunning())
}

func TestStreamFramesCarryNoLatencySignal(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())

	var mu sync.Mutex
	frames := 0
	latencies := 0
	ended := make(chan struct{})
	handlers := Handlers{
		OnFrame:   func(*frame.Frame) { mu.Lock(); frames++; mu.Unlock() },
		OnLatency: func(time.Duration) { mu.Lock(); latencies++; mu.Unlock() },
		OnEnded:   func(int) { close(ended) },
	}

	_, cancel := context.WithCancel(context.Background())
	sess := NewSession("cam1", "rtsp://example/stream", Options{}, handlers, nil)
	reaped := make(chan struct{})
	sess.mu.Lock()
	sess.running = true
	sess.cancel = cancel
	sess.mu.Unlock()

	pr, pw := io.Pipe()
	sess.emitting.Add(1)
	go sess.readLoop(context.Background(), cmd, pr, reaped)

	// Two frames spaced apart: the gap between them is decoder cadence,
	// not capture latency.
	_, err := pw.Write(makeJPEG(0x11, 64))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = pw.Write(makeJPEG(0x22, 64))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("decoder exit not reported")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, frames)
	assert.Equal(t, 0, latencies, "stream frame spacing must not drive the throttle")
}

func TestDoubleStartFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(makeJPEG(0x01, 8))
	}))
	defer server.Close()

	opts := Options{
		Snapshot: true,
		Interval: func() time.Duration { return 50 * time.Millisecond },
	}
	sess := NewSession("cam1", server.URL, opts, Handlers{}, nil)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Stop()

	assert.Error(t, sess.Start(context.Background()))
}
