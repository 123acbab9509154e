package mq

import "context"

// Publisher pushes an opaque payload keyed by topic suffix (camera id or
// event kind) onto a message broker.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}
