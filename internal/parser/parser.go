// Package parser turns a raw RFC 5322 / MIME submission into an email.Message.
package parser

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime"

	"github.com/shineum/smtp-gateway/internal/email"
)

// Error reports a message that could not be parsed at all.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Parse reads a complete message from r. Dot-stuffing must already be undone.
// Subject and body are absent when missing or blank. The body is the HTML part
// when there is one, otherwise the plain-text part.
func Parse(r io.Reader) (*email.Message, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, &Error{Err: err}
	}

	for _, perr := range env.Errors {
		slog.Debug("recoverable MIME problem",
			"name", perr.Name,
			"detail", perr.Detail,
			"severe", perr.Severe,
		)
	}

	msg := &email.Message{
		To:      env.GetHeaderValues("To"),
		Subject: email.FieldOf(env.GetHeader("Subject")),
	}
	// Addresses are parsed from the undecoded values; encoded words in
	// display names are decoded by the address parser after tokenizing.
	msg.Recipients = ExtractRecipients(env.Root.Header["To"])

	if strings.TrimSpace(env.HTML) != "" {
		msg.Body = email.Present(env.HTML)
		msg.ContentType = email.ContentTypeHTML
	} else {
		msg.Body = email.FieldOf(env.Text)
		msg.ContentType = email.ContentTypeText
	}

	return msg, nil
}

// ExtractRecipients flattens raw To header values into one ordered address
// list. Entries that carry no address are dropped rather than failing the
// whole list.
func ExtractRecipients(values []string) []string {
	var recipients []string
	for _, v := range values {
		recipients = append(recipients, parseAddressList(v)...)
	}
	return recipients
}

// parseAddressList parses a single header value. A list that is not valid as a
// whole is split into entries which are parsed one by one.
func parseAddressList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	if addresses, err := mail.ParseAddressList(raw); err == nil {
		result := make([]string, 0, len(addresses))
		for _, addr := range addresses {
			if addr.Address != "" {
				result = append(result, addr.Address)
			}
		}
		return result
	}

	var result []string
	for _, entry := range splitEntries(raw) {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if addr, err := mail.ParseAddress(entry); err == nil && addr.Address != "" {
			result = append(result, addr.Address)
			continue
		}
		if addr, ok := angleAddr(entry); ok {
			result = append(result, addr)
			continue
		}
		slog.Debug("dropping recipient without address", "entry", entry)
	}
	return result
}

// angleAddr returns the last angle-bracketed address of an entry whose
// display name could not be parsed.
func angleAddr(entry string) (string, bool) {
	end := strings.LastIndexByte(entry, '>')
	if end < 0 {
		return "", false
	}
	start := strings.LastIndexByte(entry[:end], '<')
	if start < 0 {
		return "", false
	}
	addr, err := mail.ParseAddress(entry[start+1 : end])
	if err != nil || addr.Address == "" {
		return "", false
	}
	return addr.Address, true
}

// splitEntries splits an address list on top-level ',' ';' and ':' so group
// syntax and stray tokens become separate entries. Quoted strings, comments
// and angle-bracketed addresses are never split.
func splitEntries(raw string) []string {
	var (
		entries []string
		current strings.Builder
		quoted  bool
		escaped bool
		angle   int
		comment int
	)

	for _, r := range raw {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && (quoted || comment > 0):
			escaped = true
		case quoted:
			if r == '"' {
				quoted = false
			}
		case comment > 0:
			switch r {
			case '(':
				comment++
			case ')':
				comment--
			}
		case r == '"':
			quoted = true
		case r == '(':
			comment++
		case r == '<':
			angle++
		case r == '>' && angle > 0:
			angle--
		case angle == 0 && (r == ',' || r == ';' || r == ':'):
			entries = append(entries, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	entries = append(entries, current.String())

	return entries
}
