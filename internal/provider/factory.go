package provider

import (
	"sync"
	"time"
)

// Credentials carries the per-vendor endpoints and keys read from the environment.
type Credentials struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	Timeout          time.Duration
}

// Factory builds provider clients on demand and caches one per vendor.
// In mock mode every identifier resolves to the same scripted MockClient.
type Factory struct {
	creds    Credentials
	mockMode bool

	mu      sync.Mutex
	clients map[ID]Client
}

// NewFactory creates a factory. mockMode replaces every vendor with a MockClient.
func NewFactory(creds Credentials, mockMode bool) *Factory {
	if creds.OpenAIBaseURL == "" {
		creds.OpenAIBaseURL = "https://api.openai.com"
	}
	if creds.AnthropicBaseURL == "" {
		creds.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if creds.Timeout <= 0 {
		creds.Timeout = 60 * time.Second
	}
	return &Factory{
		creds:    creds,
		mockMode: mockMode,
		clients:  make(map[ID]Client),
	}
}

// Register installs a ready-made client for id. Used by tests and embedders.
func (f *Factory) Register(id ID, c Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[id] = c
}

// Build returns the client for the given identifier. A missing API key is
// reported as an authentication error so the engine treats it as fatal.
func (f *Factory) Build(name string) (Client, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, err
	}
	if f.mockMode {
		id = Mock
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[id]; ok {
		return c, nil
	}

	var c Client
	switch id {
	case OpenAI:
		if f.creds.OpenAIAPIKey == "" {
			return nil, &Error{Kind: KindAuthentication, Provider: OpenAI, Message: "OPENAI_API_KEY is not set"}
		}
		c = NewOpenAIClient(f.creds.OpenAIBaseURL, f.creds.OpenAIAPIKey, f.creds.Timeout)
	case Anthropic:
		if f.creds.AnthropicAPIKey == "" {
			return nil, &Error{Kind: KindAuthentication, Provider: Anthropic, Message: "ANTHROPIC_API_KEY is not set"}
		}
		c = NewAnthropicClient(f.creds.AnthropicBaseURL, f.creds.AnthropicAPIKey, f.creds.Timeout)
	case Mock:
		c = NewMockClient()
	}

	f.clients[id] = c
	return c, nil
}
