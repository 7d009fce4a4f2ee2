package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shineum/smtp-gateway/internal/delivery"
)

func TestSend(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewWithWriter(&buf)

	res, err := c.Send(context.Background(), "sk_do_not_print", delivery.Request{
		From:        "noreply@example.com",
		To:          []string{"alice@example.com", "bob@example.com"},
		Subject:     "Monthly Report",
		Body:        "<p>Please find the report.</p>",
		ContentType: "html",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Payload == "" {
		t.Error("expected a result payload")
	}

	output := buf.String()
	for _, want := range []string{
		"From: noreply@example.com",
		"To: alice@example.com, bob@example.com",
		"Subject: Monthly Report",
		"Body (html, 30 B):",
		"<p>Please find the report.</p>",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "sk_do_not_print") {
		t.Error("output must not contain the tenant secret")
	}
	if !strings.HasPrefix(output, separator) || !strings.HasSuffix(output, separator) {
		t.Error("output should be framed by separator lines")
	}
}

func TestSend_NoFrom(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewWithWriter(&buf)

	_, err := c.Send(context.Background(), "sk", delivery.Request{
		To:          []string{"alice@example.com"},
		Subject:     "Hi",
		Body:        "plain",
		ContentType: "text",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "From:") {
		t.Error("output should not contain a From line without a sender")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	c := New()
	if c.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", c.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
