// Package broadcast moves discussion events between the engine and the
// clients observing a session. A Publisher forwards the events of a run to
// the session's Pub/Sub channel; a Hub fans that channel out to any number of
// local observers, typically WebSocket connections.
package broadcast

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// publishTimeout bounds a single publish so a stalled store cannot block a run.
const publishTimeout = 5 * time.Second

// EventPublisher publishes one event on its session's channel.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev blackboard.Event) error
}

// Publisher forwards run events to an EventPublisher. It satisfies the
// engine's event sink contract.
type Publisher struct {
	bus     EventPublisher
	dropped atomic.Int64
}

// NewPublisher creates a publisher writing to bus.
func NewPublisher(bus EventPublisher) *Publisher {
	return &Publisher{bus: bus}
}

// Attach drains events until the channel is closed and publishes each one in
// order. Failed publishes are logged and skipped. The returned channel is
// closed once every event has been handled.
func (p *Publisher) Attach(sessionID string, events <-chan blackboard.Event) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		for ev := range events {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := p.bus.PublishEvent(ctx, ev)
			cancel()

			if err != nil {
				p.dropped.Add(1)
				log.Printf("[Broadcast] WARN: failed to publish %s event for session %s: %v", ev.Type, sessionID, err)
			}
		}
	}()

	return done
}

// Dropped returns how many events could not be published.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}
