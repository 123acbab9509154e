package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/events"
	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/mq"
	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/relay"
	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/storage"
	"github.com/alanchelmickjr/overhead-monitor-sub001/internal/sysmon"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/capture"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/circuit"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/config"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/registry"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/throttle"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/util"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.InitLogger(cfg.Development); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single authoritative frame store; auto-prune to 90% of the ceiling
	// after a cap rejection so bursts cannot wedge ingestion.
	maxMemory := cfg.MaxMemoryBytes()
	reg := registry.NewRegistry(maxMemory, cfg.Buffer.Capacity)
	reg.EnableAutoPrune(maxMemory * 9 / 10)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	pool := worker.NewPool(ctx, workers, 256)

	// Event notifier: pipeline notifications over AMQP, disabled-safe.
	var notifier *events.Notifier
	if cfg.Events.Enabled {
		evPub, err := mq.NewAMQPPublisher(cfg.AMQP.URL, cfg.Events.Exchange, "")
		if err != nil {
			logger.Log.Errorw("event publisher unavailable, notifications disabled", "error", err)
			notifier = events.NewNotifier(nil, "", false)
		} else {
			defer evPub.Close()
			notifier = events.NewNotifier(evPub, cfg.Events.RoutingKey, true)
		}
	} else {
		notifier = events.NewNotifier(nil, "", false)
	}

	reg.SetDropListener(func(cameraID, reason string) {
		// Called under the registry lock; hand off to the pool.
		pool.Submit(&eventJob{fn: func(context.Context) error {
			notifier.FrameDropped(cameraID, reason)
			return nil
		}})
	})

	// Frame archiver.
	redisStore := storage.NewRedisStore(cfg.Redis.Address, cfg.Redis.TTLSeconds, cfg.Redis.Prefix, cfg.Redis.Enabled)
	defer redisStore.Close()
	if redisStore.Enabled() {
		reg.SetPersist(func(f *frame.Frame) {
			pool.Submit(&storage.SaveJob{Store: redisStore, Frame: f})
		})
	}

	// Throttle controller shared by all cameras.
	ctrl := throttle.NewController(throttle.Config{
		StepTable:     cfg.StepTable(),
		BaseIdx:       baseIdx(cfg),
		IdleThreshold: cfg.Throttle.IdleThreshold,
	})

	// One capture session per camera.
	sessions := make(map[string]*capture.Session, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		cam := cam
		reg.InitBuffer(cam.ID, cfg.Buffer.Capacity)
		ctrl.StartCamera(cam.ID)

		breaker := circuit.NewBreaker("capture-"+cam.ID, 5, 30*time.Second)
		handlers := capture.Handlers{
			OnFrame: reg.AddFrame,
			OnError: func(err error) {
				if errors.Is(err, capture.ErrCaptureTimeout) || errors.Is(err, capture.ErrSourceUnavailable) {
					ctrl.RecordCaptureError(cam.ID)
				}
			},
			OnEnded: func(exitCode int) {
				pool.Submit(&eventJob{fn: func(context.Context) error {
					notifier.CaptureEnded(cam.ID, exitCode)
					return nil
				}})
			},
			OnLatency: func(d time.Duration) {
				ctrl.RecordCaptureDuration(cam.ID, d)
			},
		}
		opts := capture.Options{
			FPS:      cam.FPS,
			Quality:  cam.Quality,
			Snapshot: cam.Snapshot,
			Interval: func() time.Duration { return ctrl.NextInterval(cam.ID) },
		}

		sess := capture.NewSession(cam.ID, cam.URL, opts, handlers, breaker)
		if err := sess.Start(ctx); err != nil {
			logger.Log.Errorw("camera failed to start",
				"camera_id", cam.ID,
				"error", err)
			continue
		}
		notifier.CameraStatus(cam.ID, events.CameraStateActive)
		sessions[cam.ID] = sess
	}

	ctrl.SetImmediateCaptureFunc(func(cameraID string) {
		if sess, ok := sessions[cameraID]; ok {
			sess.TriggerCapture()
		}
	})

	// Detection results drive the throttle.
	if cfg.MQTT.ActivityTopic != "" {
		consumer, err := mq.NewActivityConsumer(cfg.MQTT.Broker, cfg.MQTT.ActivityTopic, func(r mq.ActivityReport) {
			ctrl.ReportActivity(r.CameraID, r.HasActivity, r.SignalTypes)
		})
		if err != nil {
			logger.Log.Errorw("activity consumer unavailable", "error", err)
		} else {
			defer consumer.Close()
		}
	}

	// Viewer relay.
	var rl *relay.Relay
	if cfg.Relay.Enabled {
		pub, err := relayPublisher(cfg)
		if err != nil {
			logger.Log.Errorw("relay publisher unavailable", "error", err)
		} else {
			defer pub.Close()
			var compressor *util.Compressor
			if cfg.Compression.Enabled {
				compressor, err = util.NewCompressor(cfg.Compression.Level)
				if err != nil {
					logger.Log.Errorw("compressor init failed, relaying uncompressed", "error", err)
				}
			}
			rl, err = relay.New(reg, pub, pool, compressor, cfg.Relay.ReplayCount)
			if err != nil {
				logger.Log.Errorw("relay subscribe failed", "error", err)
			}
		}
	}

	// Memory pressure relief from outside the payload accounting.
	if cfg.Sysmon.Enabled {
		mon := sysmon.New(reg,
			time.Duration(cfg.Sysmon.CheckIntervalMS)*time.Millisecond,
			cfg.Sysmon.RSSLimitMB,
			maxMemory/2)
		go mon.Run(ctx)
	}

	// Operational metrics.
	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				logger.Log.Errorw("metrics endpoint failed", "error", err)
			}
		}()
	}

	logger.Log.Infow("overhead monitor running",
		"cameras", len(sessions),
		"max_memory_bytes", maxMemory)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Log.Info("shutting down")
	for id, sess := range sessions {
		sess.Stop()
		ctrl.StopCamera(id)
		notifier.CameraStatus(id, events.CameraStateOffline)
	}
	// Detach frame producers from the pool before draining it.
	if rl != nil {
		rl.Close()
	}
	cancel()
	pool.Close()
}

// baseIdx locates the configured base interval inside the step table,
// falling back to the middle entry.
func baseIdx(cfg *config.Config) int {
	table := cfg.StepTable()
	base := cfg.BaseInterval()
	for i, d := range table {
		if d == base {
			return i
		}
	}
	return len(table) / 2
}

func relayPublisher(cfg *config.Config) (mq.Publisher, error) {
	if cfg.Relay.Protocol == "amqp" {
		return mq.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKeyPrefix)
	}
	return mq.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
}

// eventJob adapts a closure to the worker pool.
type eventJob struct {
	fn func(ctx context.Context) error
}

func (j *eventJob) GetID() string { return "event" }

func (j *eventJob) Process(ctx context.Context) error { return j.fn(ctx) }
