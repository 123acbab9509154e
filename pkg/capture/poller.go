package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
)

// ErrCaptureTimeout means a single snapshot poll exceeded its deadline. The
// throttle controller slows down in response; the session keeps polling.
var ErrCaptureTimeout = errors.New("capture: poll deadline exceeded")

const (
	pollTimeout         = 10 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// pollLoop fetches still JPEGs from an http(s) snapshot URL. The delay
// between polls is asked of opts.Interval on every iteration so throttle
// decisions take effect immediately.
func (s *Session) pollLoop(ctx context.Context) {
	defer s.emitting.Done()

	client := &http.Client{Timeout: pollTimeout}

	for {
		interval := defaultPollInterval
		if s.opts.Interval != nil {
			interval = s.opts.Interval()
		}

		select {
		case <-ctx.Done():
			if s.handlers.OnEnded != nil {
				s.handlers.OnEnded(0)
			}
			return
		case <-s.poke:
		case <-time.After(interval):
		}

		start := time.Now()
		data, err := s.fetchSnapshot(ctx, client)
		latency := time.Since(start)

		metrics.CaptureLatency.WithLabelValues(s.cameraID).Observe(latency.Seconds())
		if s.handlers.OnLatency != nil {
			s.handlers.OnLatency(latency)
		}

		if err != nil {
			if ctx.Err() != nil {
				if s.handlers.OnEnded != nil {
					s.handlers.OnEnded(0)
				}
				return
			}
			logger.Log.Warnw("snapshot poll failed",
				"camera_id", s.cameraID,
				"error", err)
			s.fireError(err)
			continue
		}

		s.emit(data)
	}
}

func (s *Session) fetchSnapshot(ctx context.Context, client *http.Client) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: build snapshot request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("capture: %s: %w", s.cameraID, ErrCaptureTimeout)
		}
		var urlTimeout interface{ Timeout() bool }
		if errors.As(err, &urlTimeout) && urlTimeout.Timeout() {
			return nil, fmt.Errorf("capture: %s: %w", s.cameraID, ErrCaptureTimeout)
		}
		return nil, fmt.Errorf("capture: snapshot %s: %w: %v", s.cameraID, ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capture: snapshot %s: status %d: %w", s.cameraID, resp.StatusCode, ErrSourceUnavailable)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("capture: read snapshot body: %w", err)
	}
	if !bytes.HasPrefix(data, soiMarker) || !bytes.HasSuffix(data, eoiMarker) {
		return nil, fmt.Errorf("capture: snapshot %s: %w", s.cameraID, ErrFraming)
	}
	return data, nil
}
