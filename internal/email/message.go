// Package email defines the message model handed from the parser to the
// delivery client.
package email

import "strings"

// Content types understood by the delivery backend.
const (
	ContentTypeHTML = "html"
	ContentTypeText = "text"
)

// Message is a parsed submission ready for validation and delivery.
type Message struct {
	// To holds the decoded values of every To header occurrence, in order.
	To []string

	// Recipients is the flattened, ordered list of resolved addresses
	// extracted from To. Entries without an address are never present.
	Recipients []string

	Subject     Field
	Body        Field
	ContentType string
}

// Field is an optional header or body value. The zero value is absent.
type Field struct {
	value   string
	present bool
}

// Present returns a Field holding s. Use FieldOf when s may be blank.
func Present(s string) Field {
	return Field{value: s, present: true}
}

// Absent returns a Field with no value.
func Absent() Field {
	return Field{}
}

// FieldOf returns Present(s) unless s is empty or whitespace-only.
func FieldOf(s string) Field {
	if strings.TrimSpace(s) == "" {
		return Absent()
	}
	return Present(s)
}

// Get returns the value and whether it is present.
func (f Field) Get() (string, bool) {
	return f.value, f.present
}

// IsPresent reports whether the field holds a value.
func (f Field) IsPresent() bool {
	return f.present
}

// String returns the value, or "" when absent.
func (f Field) String() string {
	return f.value
}

// Missing returns the names of the fields required for delivery that are
// absent. A message without a To header is missing "to"; one whose To
// headers yield no address is missing "recipients".
func (m *Message) Missing() []string {
	var missing []string
	if !m.Subject.IsPresent() {
		missing = append(missing, "subject")
	}
	if !m.Body.IsPresent() {
		missing = append(missing, "body")
	}
	switch {
	case len(m.To) == 0:
		missing = append(missing, "to")
	case len(m.Recipients) == 0:
		missing = append(missing, "recipients")
	}
	return missing
}
