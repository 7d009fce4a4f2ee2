// Package stdout implements a delivery Client that prints messages to
// standard output instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/smtp-gateway/internal/delivery"
)

const separator = "========================================\n"

// Client prints messages in a human-readable format.
type Client struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Client that writes to os.Stdout.
func New() *Client {
	return &Client{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Client that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Client {
	return &Client{writer: w}
}

// Send prints the message. The secret is never printed. It always succeeds.
func (c *Client) Send(_ context.Context, _ string, req delivery.Request) (*delivery.Result, error) {
	var b strings.Builder

	b.WriteString(separator)
	if req.From != "" {
		fmt.Fprintf(&b, "From: %s\n", req.From)
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(req.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Body (%s, %s):\n", req.ContentType, formatSize(len(req.Body)))
	b.WriteString(req.Body + "\n")
	b.WriteString(separator)

	c.mu.Lock()
	// Write errors are ignored: printing is best effort.
	_, _ = io.WriteString(c.writer, b.String())
	c.mu.Unlock()

	return &delivery.Result{Payload: fmt.Sprintf(`{"success":true,"recipients":%d}`, len(req.To))}, nil
}

// Name returns the backend name.
func (c *Client) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
