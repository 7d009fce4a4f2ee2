package plunk

import (
	"github.com/shineum/smtp-gateway/internal/delivery"
	"github.com/shineum/smtp-gateway/internal/email"
)

// sendRequest is the request body for the /send endpoint.
type sendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Type    string   `json:"type"`
	From    string   `json:"from,omitempty"`
}

// errorResponse is the error body returned by the API. Depending on the
// failure either field may carry the description.
type errorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// buildSendRequest converts a delivery.Request into the API body. The API
// renders the body as HTML, which also displays plain text correctly.
func buildSendRequest(req delivery.Request) *sendRequest {
	return &sendRequest{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		Type:    email.ContentTypeHTML,
		From:    req.From,
	}
}
