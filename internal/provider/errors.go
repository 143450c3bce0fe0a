package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrUnknownProvider is returned for an unrecognised provider identifier
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidConfig is returned when an expert's provider config is malformed
	ErrInvalidConfig = errors.New("invalid provider config")
)

// Kind classifies a provider failure.
type Kind string

const (
	// Transient kinds: retried by the retrier and, if still failing, skipped by the engine.
	KindRateLimit   Kind = "rate_limit"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"

	// Fatal kinds: abort the discussion.
	KindAuthentication Kind = "authentication"
	KindQuota          Kind = "quota"
	KindInvalidRequest Kind = "invalid_request"
	KindUnknown        Kind = "unknown"
)

// Transient reports whether a failure of this kind may succeed if tried again.
func (k Kind) Transient() bool {
	return k == KindRateLimit || k == KindTimeout || k == KindUnavailable
}

// Error is the shared taxonomy every provider maps its failures into.
type Error struct {
	Kind       Kind
	Provider   ID
	StatusCode int           // HTTP status, 0 for transport failures
	Message    string        // Vendor message, if any
	Hint       time.Duration // Server-provided retry delay, 0 if none
	Err        error         // Underlying transport error, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s error", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " [%d]", e.StatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable lets the retrier classify the failure.
func (e *Error) Retryable() bool {
	return e.Kind.Transient()
}

// RetryAfter exposes the server's retry hint to the retrier.
func (e *Error) RetryAfter() (time.Duration, bool) {
	return e.Hint, e.Hint > 0
}

// IsTransient reports whether err is a provider failure worth retrying or skipping.
func IsTransient(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind.Transient()
}

// IsFatal reports whether err must abort a discussion. Anything that is not a
// transient provider failure is fatal.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err)
}

// KindOf returns the kind of a provider error, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// kindForStatus is the status-code part of every vendor's error mapping.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// classifyTransportError maps a failed round trip (no HTTP response) to the taxonomy.
// Cancellation of the caller's context is returned unchanged: it is not a provider failure.
func classifyTransportError(id ID, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := KindUnknown
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		kind = KindUnavailable
	}

	return &Error{Kind: kind, Provider: id, Message: "request failed", Err: err}
}

// parseRetryAfter reads retry-after-ms, then retry-after as seconds or HTTP-date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if ms := strings.TrimSpace(h.Get("retry-after-ms")); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}

	raw := strings.TrimSpace(h.Get("retry-after"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
