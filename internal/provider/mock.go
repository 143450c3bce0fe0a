package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// defaultMockScript lets a mock-only council reach consensus on its third reply.
var defaultMockScript = []string{
	"Here is my initial take: we should start from the simplest design that meets the constraints.",
	"Building on that, we should also plan for failure modes and measure before optimising.",
	"I agree with the direction above; consensus reached on a simple, measurable first version.",
}

// MockClient replays a fixed script of replies, cycling when it runs out.
// It is used in mock mode and by tests.
type MockClient struct {
	mu      sync.Mutex
	replies []string
	calls   int
	err     error
	last    []ChatMessage
}

// NewMockClient returns a client replying with replies in order. With no
// replies it uses a short script that ends in agreement.
func NewMockClient(replies ...string) *MockClient {
	if len(replies) == 0 {
		replies = defaultMockScript
	}
	return &MockClient{replies: replies}
}

// FailWith makes every following call return err. Pass nil to recover.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Chat has been invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastMessages returns the context passed to the most recent call.
func (m *MockClient) LastMessages() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatMessage(nil), m.last...)
}

// Chat returns the next scripted reply.
func (m *MockClient) Chat(ctx context.Context, messages []ChatMessage, cfg ChatConfig) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.last = append([]ChatMessage(nil), messages...)
	if m.err != nil {
		return nil, m.err
	}

	reply := m.replies[(m.calls-1)%len(m.replies)]
	prompt := 0
	for _, msg := range messages {
		prompt += len(strings.Fields(msg.Content))
	}
	completion := len(strings.Fields(reply))

	return &ChatResponse{
		Content:      reply,
		FinishReason: "stop",
		Model:        fmt.Sprintf("mock/%s", cfg.Model),
		Usage:        Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}, nil
}
