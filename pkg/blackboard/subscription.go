package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription represents an active Pub/Sub subscription delivering decoded
// values of type T. Caller must call Close() when done to clean up resources.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded messages.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors are non-fatal: a payload that fails to decode is skipped.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// subscribe opens a confirmed subscription on one channel and decodes each
// payload as JSON into T.
//
// Events are delivered on a buffered channel (size 32). Redis Pub/Sub is
// at-most-once, so a subscriber that falls far behind may lose messages.
func subscribe[T any](ctx context.Context, rdb *redis.Client, channel, kind string) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("subscribe to "+kind+" channel", err)
	}

	eventsChan := make(chan *T, 32)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var value T
				if err := json.Unmarshal([]byte(msg.Payload), &value); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal %s: %w", kind, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &value:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
