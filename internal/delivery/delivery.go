// Package delivery defines the interface for outbound email delivery backends.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Request is the message handed to a delivery backend.
type Request struct {
	From        string
	To          []string
	Subject     string
	Body        string
	ContentType string
}

// Result is the backend's answer to an accepted request.
type Result struct {
	// Payload is the raw response body, kept for debug logging.
	Payload string
}

// Client is the interface that delivery backends must implement.
type Client interface {
	// Send delivers req, authorized by the tenant's secret.
	Send(ctx context.Context, secret string, req Request) (*Result, error)

	// Name returns the human-readable name of this backend.
	Name() string
}

// Error is a delivery failure reported by, or on the way to, the backend.
type Error struct {
	// StatusCode is the backend's HTTP status, zero for transport failures.
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failed: %s", e.Message)
	}
	return fmt.Sprintf("delivery failed (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the same request might succeed later:
// transport failures, rate limiting and server errors.
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsTemporary reports whether err is a temporary delivery failure.
func IsTemporary(err error) bool {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Temporary()
	}
	return false
}
