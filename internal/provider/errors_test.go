package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{401, KindAuthentication},
		{403, KindAuthentication},
		{429, KindRateLimit},
		{408, KindTimeout},
		{504, KindTimeout},
		{500, KindUnavailable},
		{503, KindUnavailable},
		{529, KindUnavailable},
		{400, KindInvalidRequest},
		{404, KindInvalidRequest},
		{302, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.kind, kindForStatus(tt.status))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		header   http.Header
		expected time.Duration
	}{
		{"none", http.Header{}, 0},
		{"seconds", http.Header{"Retry-After": []string{"3"}}, 3 * time.Second},
		{"fractional seconds", http.Header{"Retry-After": []string{"0.5"}}, 500 * time.Millisecond},
		{"milliseconds take precedence", http.Header{"Retry-After-Ms": []string{"250"}, "Retry-After": []string{"9"}}, 250 * time.Millisecond},
		{"http date", http.Header{"Retry-After": []string{now.Add(4 * time.Second).Format(http.TimeFormat)}}, 4 * time.Second},
		{"date in the past", http.Header{"Retry-After": []string{now.Add(-time.Minute).Format(http.TimeFormat)}}, 0},
		{"negative", http.Header{"Retry-After": []string{"-1"}}, 0},
		{"garbage", http.Header{"Retry-After": []string{"soon"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseRetryAfter(tt.header, now))
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	t.Run("cancellation passes through", func(t *testing.T) {
		err := classifyTransportError(OpenAI, fmt.Errorf("post: %w", context.Canceled))
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsTransient(err))
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		err := classifyTransportError(OpenAI, context.DeadlineExceeded)
		assert.Equal(t, KindTimeout, KindOf(err))
		assert.True(t, IsTransient(err))
	})

	t.Run("connection reset is unavailable", func(t *testing.T) {
		err := classifyTransportError(Anthropic, fmt.Errorf("read: %w", syscall.ECONNRESET))
		assert.Equal(t, KindUnavailable, KindOf(err))
	})

	t.Run("unexpected eof is unavailable", func(t *testing.T) {
		err := classifyTransportError(Anthropic, io.ErrUnexpectedEOF)
		assert.Equal(t, KindUnavailable, KindOf(err))
	})

	t.Run("anything else is fatal", func(t *testing.T) {
		err := classifyTransportError(OpenAI, errors.New("tls: bad certificate"))
		assert.Equal(t, KindUnknown, KindOf(err))
		assert.True(t, IsFatal(err))
	})
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindRateLimit, Provider: OpenAI, StatusCode: 429, Message: "slow down"}
	assert.Equal(t, "openai rate_limit error [429]: slow down", err.Error())

	hint, ok := err.RetryAfter()
	assert.False(t, ok)
	assert.Zero(t, hint)

	err.Hint = time.Second
	hint, ok = err.RetryAfter()
	assert.True(t, ok)
	assert.Equal(t, time.Second, hint)
}

func TestIsFatal_NonProviderError(t *testing.T) {
	assert.True(t, IsFatal(errors.New("boom")))
	assert.False(t, IsFatal(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}
