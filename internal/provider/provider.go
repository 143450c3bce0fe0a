// Package provider gives every LLM vendor the same call surface and translates
// vendor failures into one error taxonomy the discussion engine can act on.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// ID identifies a provider implementation.
type ID string

const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	Mock      ID = "mock"
)

// ParseID normalises a provider identifier. Matching is case-insensitive.
func ParseID(s string) (ID, error) {
	switch id := ID(strings.ToLower(strings.TrimSpace(s))); id {
	case OpenAI, Anthropic, Mock:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the context sent to a model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatConfig holds the sampling settings of one expert.
type ChatConfig struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Stop        []string
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the normalised result of a chat call.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// Client is implemented once per vendor.
type Client interface {
	// Chat sends the messages and returns the model's reply. Failures are
	// returned as *Error whenever the vendor or transport reported them.
	Chat(ctx context.Context, messages []ChatMessage, cfg ChatConfig) (*ChatResponse, error)
}
