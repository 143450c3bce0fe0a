package broadcast

import (
	"context"
	"errors"
	"log"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/google/uuid"
)

// DefaultBufferSize is the per-observer event buffer. An observer that lets it
// fill up is disconnected.
const DefaultBufferSize = 256

// ErrHubClosed is returned by Observe once the hub has stopped.
var ErrHubClosed = errors.New("broadcast hub is closed")

// EventSource opens a subscription on one session's event channel.
type EventSource interface {
	SubscribeSessionEvents(ctx context.Context, sessionID string) (*blackboard.Subscription[blackboard.Event], error)
}

// Observer is one attached consumer of a session's events.
type Observer struct {
	ID        string
	SessionID string

	hub    *Hub
	send   chan blackboard.Event
	closed bool // Owned by the hub loop
}

// Events returns the observer's event stream. The channel is closed when the
// observer detaches, is dropped for being slow, or the hub stops.
func (o *Observer) Events() <-chan blackboard.Event {
	return o.send
}

// Close detaches the observer. Safe to call more than once.
func (o *Observer) Close() {
	select {
	case o.hub.unregister <- o:
	case <-o.hub.done:
	}
}

// feed is the shared subscription behind every observer of one session.
type feed struct {
	sessionID string
	sub       *blackboard.Subscription[blackboard.Event]
	observers map[string]*Observer
}

type registration struct {
	observer *Observer
	reply    chan error
}

type inbound struct {
	feed  *feed
	event blackboard.Event
}

// Hub fans session events out to local observers. One store subscription is
// held per observed session and released when its last observer leaves.
// All registry state is owned by the Run goroutine.
type Hub struct {
	source     EventSource
	bufferSize int

	register   chan registration
	unregister chan *Observer
	inbound    chan inbound
	feedClosed chan *feed
	stats      chan chan map[string]int
	done       chan struct{}
}

// NewHub creates a hub reading from source. Run must be started before
// observers can attach.
func NewHub(source EventSource, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		source:     source,
		bufferSize: bufferSize,
		register:   make(chan registration),
		unregister: make(chan *Observer),
		inbound:    make(chan inbound, 64),
		feedClosed: make(chan *feed),
		stats:      make(chan chan map[string]int),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and deliveries until ctx is cancelled. On exit every
// observer is closed and every subscription released.
func (h *Hub) Run(ctx context.Context) {
	feeds := make(map[string]*feed)

	defer func() {
		for _, f := range feeds {
			h.closeFeed(feeds, f)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case reg := <-h.register:
			reg.reply <- h.attach(ctx, feeds, reg.observer)

		case o := <-h.unregister:
			h.detach(feeds, o)

		case in := <-h.inbound:
			if feeds[in.feed.sessionID] == in.feed {
				h.deliver(feeds, in.feed, in.event)
			}

		case f := <-h.feedClosed:
			if feeds[f.sessionID] == f {
				log.Printf("[Broadcast] Event subscription for session %s ended, closing %d observer(s)", f.sessionID, len(f.observers))
				h.closeFeed(feeds, f)
			}

		case reply := <-h.stats:
			counts := make(map[string]int, len(feeds))
			for id, f := range feeds {
				counts[id] = len(f.observers)
			}
			reply <- counts
		}
	}
}

// Observe attaches a new observer to a session. It receives only events
// published after it attached.
func (h *Hub) Observe(ctx context.Context, sessionID string) (*Observer, error) {
	o := &Observer{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		hub:       h,
		send:      make(chan blackboard.Event, h.bufferSize),
	}

	reg := registration{observer: o, reply: make(chan error, 1)}
	select {
	case h.register <- reg:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := <-reg.reply; err != nil {
		return nil, err
	}
	return o, nil
}

// Observers returns the number of attached observers per observed session.
func (h *Hub) Observers() map[string]int {
	reply := make(chan map[string]int, 1)
	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return map[string]int{}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) attach(ctx context.Context, feeds map[string]*feed, o *Observer) error {
	f, ok := feeds[o.SessionID]
	if !ok {
		// The subscription lives as long as the hub, not the caller's request.
		sub, err := h.source.SubscribeSessionEvents(ctx, o.SessionID)
		if err != nil {
			return err
		}
		f = &feed{sessionID: o.SessionID, sub: sub, observers: make(map[string]*Observer)}
		feeds[o.SessionID] = f
		go h.pump(f)
	}

	f.observers[o.ID] = o
	return nil
}

func (h *Hub) detach(feeds map[string]*feed, o *Observer) {
	if o.closed {
		return
	}
	o.closed = true
	close(o.send)

	f, ok := feeds[o.SessionID]
	if !ok {
		return
	}
	delete(f.observers, o.ID)
	if len(f.observers) == 0 {
		f.sub.Close()
		delete(feeds, f.sessionID)
	}
}

// deliver never blocks: an observer whose buffer is full is dropped.
func (h *Hub) deliver(feeds map[string]*feed, f *feed, ev blackboard.Event) {
	for _, o := range f.observers {
		select {
		case o.send <- ev:
		default:
			log.Printf("[Broadcast] WARN: observer %s of session %s is too slow, disconnecting", o.ID, f.sessionID)
			h.detach(feeds, o)
		}
	}
}

func (h *Hub) closeFeed(feeds map[string]*feed, f *feed) {
	for _, o := range f.observers {
		o.closed = true
		close(o.send)
	}
	f.observers = nil
	f.sub.Close()
	delete(feeds, f.sessionID)
}

// pump forwards one subscription into the hub loop until it closes.
func (h *Hub) pump(f *feed) {
	events := f.sub.Events()
	errs := f.sub.Errors()

	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			select {
			case h.inbound <- inbound{feed: f, event: *ev}:
			case <-h.done:
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Broadcast] WARN: session %s: %v", f.sessionID, err)
		}
	}

	select {
	case h.feedClosed <- f:
	case <-h.done:
	}
}
