// Package plunk implements a delivery Client for the Plunk transactional
// email HTTP API.
package plunk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/smtp-gateway/internal/delivery"
)

// DefaultBaseURL is the hosted API root.
const DefaultBaseURL = "https://api.useplunk.com/v1"

// defaultTimeout bounds a single send when no timeout is configured.
const defaultTimeout = 30 * time.Second

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 64 << 10

// Config holds the configuration for creating a Client.
type Config struct {
	// BaseURL is the API root; DefaultBaseURL when empty.
	BaseURL string
	// Timeout bounds each HTTP request; 30s when zero.
	Timeout time.Duration
}

// Client sends messages with the tenant's secret as the API key.
type Client struct {
	sendURL    string
	httpClient *http.Client
}

// New creates a new Client with the given configuration.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewWithClient(cfg.BaseURL, &http.Client{Timeout: timeout})
}

// NewWithClient creates a Client with a custom HTTP client, used for testing.
func NewWithClient(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		sendURL:    strings.TrimRight(baseURL, "/") + "/send",
		httpClient: client,
	}
}

// Name returns the backend name.
func (c *Client) Name() string {
	return "plunk"
}

// Send performs a single POST to the /send endpoint. Failures are returned
// as *delivery.Error and never retried.
func (c *Client) Send(ctx context.Context, secret string, req delivery.Request) (*delivery.Result, error) {
	bodyJSON, err := json.Marshal(buildSendRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &delivery.Error{
			Message: fmt.Sprintf("HTTP request failed: %v", unwrapURLError(err)),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, &delivery.Error{
				Message: fmt.Sprintf("failed to read response: %v", err),
				Err:     err,
			}
		}
		return &delivery.Result{Payload: string(payload)}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return nil, &delivery.Error{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.StatusCode, body),
	}
}

// errorMessage extracts the most specific description of a failed request.
func errorMessage(status int, body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(status)
}

// unwrapURLError drops the method and URL that net/http prefixes to
// transport errors.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
