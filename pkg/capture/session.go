package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/circuit"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
)

// ErrSourceUnavailable means the decode process could not be spawned or the
// source URL could not be reached. Callers retry with backoff.
var ErrSourceUnavailable = errors.New("capture: source unavailable")

const (
	// restartDelay is how long the session waits before relaunching the
	// decoder after an abnormal exit.
	restartDelay = 5 * time.Second
	// stopGrace is how long a graceful termination may take before the
	// process is killed.
	stopGrace = 5 * time.Second

	readChunkSize = 32 * 1024
)

// Options tune the external decoder or poll loop.
type Options struct {
	FPS      int
	Quality  int
	Snapshot bool
	// Interval supplies the delay before the next snapshot poll. Wired to
	// the throttle controller by the caller; ignored for stream sources.
	Interval func() time.Duration
}

// Handlers receive session events. Nil handlers are skipped. OnFrame is
// never invoked after Stop returns.
type Handlers struct {
	OnFrame   func(*frame.Frame)
	OnError   func(err error)
	OnEnded   func(exitCode int)
	OnLatency func(d time.Duration)
}

// Session owns one camera's decoder subprocess (or snapshot poll loop),
// reassembles frames from its output and assigns sequence numbers.
type Session struct {
	cameraID  string
	sourceURL string
	opts      Options
	handlers  Handlers
	breaker   *circuit.Breaker

	poke chan struct{}

	mu       sync.Mutex
	running  bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	reaped   chan struct{}
	cancel   context.CancelFunc
	seq      uint64
	framer   *Framer
	emitting sync.WaitGroup
}

// NewSession prepares a session. breaker guards the restart path; a nil
// breaker disables that protection.
func NewSession(cameraID, sourceURL string, opts Options, handlers Handlers, breaker *circuit.Breaker) *Session {
	return &Session{
		cameraID:  cameraID,
		sourceURL: sourceURL,
		opts:      opts,
		handlers:  handlers,
		breaker:   breaker,
		framer:    NewFramer(),
		poke:      make(chan struct{}, 1),
	}
}

// TriggerCapture requests one immediate poll, bypassing the throttle
// schedule. No-op for stream sources, whose decoder free-runs.
func (s *Session) TriggerCapture() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Start launches the decoder subprocess, or the snapshot poll loop for
// http(s) snapshot sources. Returns ErrSourceUnavailable (wrapped) when the
// process cannot be spawned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("capture: session for %s already running", s.cameraID)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.opts.Snapshot {
		if !strings.HasPrefix(s.sourceURL, "http") {
			cancel()
			return fmt.Errorf("capture: snapshot source %q: %w", s.sourceURL, ErrSourceUnavailable)
		}
		s.running = true
		s.emitting.Add(1)
		go s.pollLoop(ctx)
		metrics.CameraConnected.WithLabelValues(s.cameraID).Set(1)
		return nil
	}

	if err := s.spawnLocked(ctx); err != nil {
		cancel()
		return err
	}

	s.running = true
	s.emitting.Add(1)
	go s.readLoop(ctx, s.cmd, s.stdout, s.reaped)
	metrics.CameraConnected.WithLabelValues(s.cameraID).Set(1)

	logger.Log.Infow("capture session started",
		"camera_id", s.cameraID,
		"fps", s.opts.FPS,
		"quality", s.opts.Quality)
	return nil
}

func (s *Session) spawnLocked(ctx context.Context) error {
	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-rtsp_transport", "tcp",
		"-i", s.sourceURL,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprintf("%d", s.opts.Quality),
		"-r", fmt.Sprintf("%d", s.opts.FPS),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: start decoder for %s: %w: %v", s.cameraID, ErrSourceUnavailable, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.reaped = make(chan struct{})
	return nil
}

// readLoop drains the decoder's stdout through the framer until the process
// dies or the session is stopped. The decoder free-runs at its own rate, so
// frame spacing here says nothing about capture latency; OnLatency is a
// snapshot-poll signal only.
func (s *Session) readLoop(ctx context.Context, cmd *exec.Cmd, stdout io.ReadCloser, reaped chan struct{}) {
	defer s.emitting.Done()

	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			frames, ferr := s.framer.Write(buf[:n])
			for _, data := range frames {
				s.emit(data)
			}
			if ferr != nil {
				logger.Log.Warnw("framing error, accumulator reset",
					"camera_id", s.cameraID)
				s.fireError(ferr)
			}
		}
		if err != nil {
			s.onStreamEnd(ctx, cmd, reaped, err)
			return
		}
		select {
		case <-ctx.Done():
			s.onStreamEnd(ctx, cmd, reaped, ctx.Err())
			return
		default:
		}
	}
}

// onStreamEnd reaps the process, reports the exit and restarts after a delay
// when the session should still be running. reaped is closed once Wait
// returns so Stop can tell a reaped decoder from a hung one.
func (s *Session) onStreamEnd(ctx context.Context, cmd *exec.Cmd, reaped chan struct{}, cause error) {
	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	close(reaped)

	s.mu.Lock()
	stillRunning := s.running
	s.mu.Unlock()

	if s.handlers.OnEnded != nil {
		s.handlers.OnEnded(exitCode)
	}

	if !stillRunning || ctx.Err() != nil {
		return
	}
	if exitCode == 0 {
		// Clean exit: the decoder finished on its own terms, do not restart.
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		metrics.CameraConnected.WithLabelValues(s.cameraID).Set(0)
		return
	}

	logger.Log.Errorw("decoder exited abnormally",
		"camera_id", s.cameraID,
		"exit_code", exitCode,
		"cause", cause)
	s.fireError(fmt.Errorf("capture: decoder for %s exited (%d): %w", s.cameraID, exitCode, ErrSourceUnavailable))
	metrics.CameraConnected.WithLabelValues(s.cameraID).Set(0)

	select {
	case <-ctx.Done():
		return
	case <-time.After(restartDelay):
	}

	if s.breaker != nil && !s.breaker.Allow() {
		logger.Log.Errorw("restart suppressed by circuit breaker, camera offline",
			"camera_id", s.cameraID)
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.framer.Reset()
	err := s.spawnLocked(ctx)
	if err == nil {
		cmd, stdout, reaped := s.cmd, s.stdout, s.reaped
		s.emitting.Add(1)
		go s.readLoop(ctx, cmd, stdout, reaped)
	}
	s.mu.Unlock()

	if err != nil {
		if s.breaker != nil {
			s.breaker.RecordFailure()
		}
		s.fireError(err)
		return
	}
	if s.breaker != nil {
		s.breaker.RecordSuccess()
	}
	metrics.CameraConnected.WithLabelValues(s.cameraID).Set(1)
	logger.Log.Infow("capture session restarted", "camera_id", s.cameraID)
}

// emit builds and delivers a frame unless the session has been stopped.
func (s *Session) emit(data []byte) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	metrics.FramesCaptured.WithLabelValues(s.cameraID).Inc()
	if s.handlers.OnFrame != nil {
		s.handlers.OnFrame(frame.New(s.cameraID, seq, data, nil))
	}
}

func (s *Session) fireError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

// Stop terminates the session. The decoder gets stopGrace to exit after
// SIGTERM before it is killed. No OnFrame callback fires after Stop returns;
// the accumulator and sequence counter are released.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cmd := s.cmd
	reaped := s.reaped
	cancel := s.cancel
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)

		// Wait is owned by readLoop; it closes reaped once the decoder is
		// gone. Escalate only when the grace period runs out first.
		select {
		case <-reaped:
		case <-time.After(stopGrace):
			_ = cmd.Process.Kill()
		}
	}

	cancel()
	s.emitting.Wait()

	s.mu.Lock()
	s.framer.Reset()
	s.seq = 0
	s.mu.Unlock()

	metrics.CameraConnected.WithLabelValues(s.cameraID).Set(0)
	logger.Log.Infow("capture session stopped", "camera_id", s.cameraID)
}

// Sequence reports the next sequence number to be assigned.
func (s *Session) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// IsRunning reports whether the session should be producing frames.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
