package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/retry"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// step is one scripted provider outcome.
type step struct {
	content string
	err     error
}

func reply(content string) step { return step{content: content} }

func failure(err error) step { return step{err: err} }

// scriptedClient replays steps in call order across all experts sharing it.
// Calls past the script return neutral filler text.
type scriptedClient struct {
	mu     sync.Mutex
	steps  []step
	calls  [][]provider.ChatMessage
	onCall func(n int)
}

func newScriptedClient(steps ...step) *scriptedClient {
	return &scriptedClient{steps: steps}
}

func (c *scriptedClient) Chat(ctx context.Context, messages []provider.ChatMessage, cfg provider.ChatConfig) (*provider.ChatResponse, error) {
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, messages)
	s := step{content: fmt.Sprintf("filler reply %d", n+1)}
	if n < len(c.steps) {
		s = c.steps[n]
	}
	hook := c.onCall
	c.mu.Unlock()

	if hook != nil {
		hook(n + 1)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ChatResponse{Content: s.content, FinishReason: "stop"}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *scriptedClient) call(i int) []provider.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

// fakeFactory resolves provider ids to preinstalled clients.
type fakeFactory struct {
	clients map[provider.ID]provider.Client
}

func (f *fakeFactory) Build(name string) (provider.Client, error) {
	id, err := provider.ParseID(name)
	if err != nil {
		return nil, err
	}
	c, ok := f.clients[id]
	if !ok {
		return nil, &provider.Error{Kind: provider.KindAuthentication, Provider: id, Message: "no credentials"}
	}
	return c, nil
}

// recordingSink collects every event of every run it is attached to.
type recordingSink struct {
	mu       sync.Mutex
	events   []blackboard.Event
	attached int
}

func (s *recordingSink) Attach(_ string, events <-chan blackboard.Event) <-chan struct{} {
	s.mu.Lock()
	s.attached++
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			s.mu.Lock()
			s.events = append(s.events, ev)
			s.mu.Unlock()
		}
	}()
	return done
}

func (s *recordingSink) all() []blackboard.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]blackboard.Event(nil), s.events...)
}

func (s *recordingSink) types() []blackboard.EventType {
	var out []blackboard.EventType
	for _, ev := range s.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (s *recordingSink) ofType(t blackboard.EventType) []blackboard.Event {
	var out []blackboard.Event
	for _, ev := range s.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) last() blackboard.Event {
	all := s.all()
	return all[len(all)-1]
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.InstanceName = "test-instance"
	opts.TurnDelay = 0
	opts.Retry = retry.Options{MaxRetries: 0}
	return opts
}

func setupRedis(t *testing.T) *miniredis.Miniredis {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	return mr
}

func newTestClient(t *testing.T, mr *miniredis.Miniredis) *blackboard.Client {
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// setupTestEngine wires an engine to miniredis with every expert served by chat.
func setupTestEngine(t *testing.T, chat provider.Client) (*Engine, *blackboard.Client, *recordingSink) {
	client := newTestClient(t, setupRedis(t))
	sink := &recordingSink{}
	factory := &fakeFactory{clients: map[provider.ID]provider.Client{provider.Mock: chat}}
	return NewEngine(client, factory, sink, client, testOptions()), client, sink
}

func titled(id string) string {
	return strings.ToUpper(id[:1]) + id[1:]
}

// seedExperts stores mock experts named after their ids.
func seedExperts(t *testing.T, client *blackboard.Client, ids ...string) {
	for _, id := range ids {
		require.NoError(t, client.PutExpert(context.Background(), &blackboard.Expert{
			ID:           id,
			Name:         titled(id),
			Specialty:    titled(id) + " things",
			SystemPrompt: "You are " + titled(id) + ".",
			Provider:     "mock",
			Config:       map[string]any{"model": "test-model"},
		}))
	}
}

// newSession seeds the roster's experts and a PENDING session over them.
func newSession(t *testing.T, client *blackboard.Client, maxMessages int, roster ...string) *blackboard.Session {
	seedExperts(t, client, roster...)
	s := blackboard.NewSession("How should we scale the write path?", roster, maxMessages)
	require.NoError(t, client.CreateSession(context.Background(), s))
	return s
}

func loadStatus(t *testing.T, client *blackboard.Client, sessionID string) blackboard.SessionStatus {
	s, err := client.LoadSession(context.Background(), sessionID)
	require.NoError(t, err)
	return s.Status
}

func turnExperts(sink *recordingSink) []string {
	var out []string
	for _, ev := range sink.ofType(blackboard.EventExpertTurnStart) {
		out = append(out, ev.TurnStart.ExpertID)
	}
	return out
}
