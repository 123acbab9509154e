package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/frame"
	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/metrics"
)

// RedisStore archives frames with a TTL. It is the storage collaborator
// behind the registry's persist hook: fire-and-forget, failures are counted
// and logged, never propagated back to the capture path.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	enabled bool
}

// NewRedisStore creates a store. When disabled every call is a no-op.
func NewRedisStore(addr string, ttlSeconds int, prefix string, enabled bool) *RedisStore {
	if !enabled {
		return &RedisStore{enabled: false}
	}
	return &RedisStore{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		ttl:     time.Duration(ttlSeconds) * time.Second,
		prefix:  prefix,
		enabled: true,
	}
}

func (r *RedisStore) Enabled() bool {
	return r.enabled
}

// Key builds the archive key: <prefix>:<cameraID>:<seq>:<RFC3339Nano>.
func (r *RedisStore) Key(f *frame.Frame) string {
	return fmt.Sprintf("%s:%s:%d:%s", r.prefix, f.CameraID, f.Sequence, f.Timestamp.Format(time.RFC3339Nano))
}

// SaveFrame stores one frame payload under its key with the configured TTL.
func (r *RedisStore) SaveFrame(ctx context.Context, f *frame.Frame) (string, error) {
	if !r.enabled {
		return "", nil
	}

	key := r.Key(f)
	if err := r.client.Set(ctx, key, f.Payload, r.ttl).Err(); err != nil {
		metrics.StorageOperations.WithLabelValues("save", "error").Inc()
		return "", fmt.Errorf("save frame to redis: %w", err)
	}
	metrics.StorageOperations.WithLabelValues("save", "ok").Inc()
	return key, nil
}

// GetFrame retrieves an archived payload by key.
func (r *RedisStore) GetFrame(ctx context.Context, key string) ([]byte, error) {
	if !r.enabled {
		return nil, nil
	}
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		metrics.StorageOperations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("get frame from redis: %w", err)
	}
	metrics.StorageOperations.WithLabelValues("get", "ok").Inc()
	return data, nil
}

func (r *RedisStore) Close() error {
	if !r.enabled {
		return nil
	}
	return r.client.Close()
}
