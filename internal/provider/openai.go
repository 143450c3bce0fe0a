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

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for baseURL (without the /v1 suffix).
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      *ChatMessage `json:"message,omitempty"`
		FinishReason string       `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type openAIErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code,omitempty"`
	} `json:"error"`
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []ChatMessage, cfg ChatConfig) (*ChatResponse, error) {
	body, err := json.Marshal(&openAIRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
		Stop:        cfg.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(OpenAI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(OpenAI, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapOpenAIError(resp.StatusCode, resp.Header, respBody, time.Now())
	}

	var result openAIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: OpenAI, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return nil, &Error{Kind: KindUnknown, Provider: OpenAI, StatusCode: resp.StatusCode, Message: "response has no choices"}
	}

	out := &ChatResponse{
		Content:      result.Choices[0].Message.Content,
		FinishReason: result.Choices[0].FinishReason,
		Model:        result.Model,
	}
	if result.Usage != nil {
		out.Usage = *result.Usage
	}
	return out, nil
}

// setHeaders sets common request headers.
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// mapOpenAIError converts a non-200 response into the shared taxonomy.
func mapOpenAIError(status int, header http.Header, body []byte, now time.Time) *Error {
	perr := &Error{Kind: kindForStatus(status), Provider: OpenAI, StatusCode: status}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		perr.Message = errResp.Error.Message
		code, _ := errResp.Error.Code.(string)
		if status == http.StatusTooManyRequests && (errResp.Error.Type == "insufficient_quota" || code == "insufficient_quota") {
			perr.Kind = KindQuota
		}
	} else {
		perr.Message = strings.TrimSpace(string(body))
	}

	if perr.Kind.Transient() {
		perr.Hint = parseRetryAfter(header, now)
	}
	return perr
}
