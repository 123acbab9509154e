package storage

import (
	"context"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
)

// SaveJob adapts one frame archive write to the worker pool.
type SaveJob struct {
	Store *RedisStore
	Frame *frame.Frame
}

func (j *SaveJob) GetID() string {
	return j.Frame.ID
}

func (j *SaveJob) Process(ctx context.Context) error {
	_, err := j.Store.SaveFrame(ctx, j.Frame)
	return err
}
