package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 1024

	// Anthropic requires the conversation to open and close on a user turn.
	anthropicOpeningPrompt = "Please begin the discussion."
	anthropicTurnPrompt    = "It is your turn to respond."
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAnthropicClient creates a client for baseURL (without the /v1 suffix).
func NewAnthropicClient(baseURL, apiKey string, timeout time.Duration) *AnthropicClient {
	return &AnthropicClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one Messages API request.
func (c *AnthropicClient) Chat(ctx context.Context, messages []ChatMessage, cfg ChatConfig) (*ChatResponse, error) {
	system, turns := toAnthropicMessages(messages)

	maxTokens := anthropicDefaultMaxTokens
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}

	body, err := json.Marshal(&anthropicRequest{
		Model:         cfg.Model,
		System:        system,
		Messages:      turns,
		MaxTokens:     maxTokens,
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		StopSequences: cfg.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(Anthropic, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(Anthropic, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapAnthropicError(resp.StatusCode, resp.Header, respBody, time.Now())
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: Anthropic, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &ChatResponse{
		Content:      text.String(),
		FinishReason: result.StopReason,
		Model:        result.Model,
		Usage: Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}, nil
}

// toAnthropicMessages hoists system entries into the top-level system prompt,
// merges consecutive turns of the same role and makes sure the conversation
// starts and ends on a user turn.
func toAnthropicMessages(messages []ChatMessage) (string, []anthropicMessage) {
	var system []string
	var turns []anthropicMessage

	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, anthropicMessage{Role: role, Content: m.Content})
	}

	if len(turns) == 0 || turns[0].Role != RoleUser {
		turns = append([]anthropicMessage{{Role: RoleUser, Content: anthropicOpeningPrompt}}, turns...)
	}
	if turns[len(turns)-1].Role != RoleUser {
		turns = append(turns, anthropicMessage{Role: RoleUser, Content: anthropicTurnPrompt})
	}

	return strings.Join(system, "\n\n"), turns
}

// mapAnthropicError converts a non-200 response into the shared taxonomy.
// 529 (overloaded) falls into the 5xx unavailable bucket.
func mapAnthropicError(status int, header http.Header, body []byte, now time.Time) *Error {
	perr := &Error{Kind: kindForStatus(status), Provider: Anthropic, StatusCode: status}

	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		perr.Message = errResp.Error.Message
		switch errResp.Error.Type {
		case "overloaded_error", "api_error":
			perr.Kind = KindUnavailable
		case "rate_limit_error":
			perr.Kind = KindRateLimit
		case "authentication_error", "permission_error":
			perr.Kind = KindAuthentication
		}
	} else {
		perr.Message = strings.TrimSpace(string(body))
	}

	if perr.Kind.Transient() {
		perr.Hint = parseRetryAfter(header, now)
	}
	return perr
}
