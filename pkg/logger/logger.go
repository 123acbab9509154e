package logger

import (
	"go.uber.org/zap"
)

// Log is never nil; before InitLogger it discards everything so library
// packages and tests can log unconditionally.
var Log = zap.NewNop().Sugar()

// InitLogger builds the process-wide sugared logger. Development mode uses
// the console encoder, production mode JSON. Sampling keeps hot capture
// loops from flooding the sink.
func InitLogger(development bool) error {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	config.Sampling = &zap.SamplingConfig{
		Initial:    100,
		Thereafter: 100,
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Log = logger.Sugar()
	return nil
}

func Sync() {
	_ = Log.Sync()
}

// WithCamera returns a logger pre-tagged with the camera id.
func WithCamera(cameraID string) *zap.SugaredLogger {
	return Log.With("camera_id", cameraID)
}
