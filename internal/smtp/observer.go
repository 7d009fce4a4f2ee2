package smtp

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/smtp-gateway/internal/delivery"
)

// Reasons a received message was rejected before or instead of delivery.
const (
	RejectNotAuthenticated  = "not_authenticated"
	RejectContextMissing    = "context_missing"
	RejectParseError        = "parse_error"
	RejectMissingParameters = "missing_parameters"
	RejectNoRecipients      = "no_recipients"
)

// SessionInfo identifies a session in observer callbacks. It never carries
// the tenant secret.
type SessionInfo struct {
	ID         string
	RemoteAddr string
	TLS        bool
	// TenantID is set once the session has authenticated.
	TenantID string
}

// Observer receives session lifecycle events. Implementations must be safe
// for concurrent use: every session calls the same Observer.
type Observer interface {
	SessionOpened(info SessionInfo)
	SessionClosed(info SessionInfo)
	AuthSucceeded(info SessionInfo)
	AuthFailed(info SessionInfo, tenantID, reason string, err error)
	MessageRejected(info SessionInfo, reason string, err error)
	DeliveryStarted(info SessionInfo, recipients []string)
	DeliverySucceeded(info SessionInfo, recipients []string, result *delivery.Result, elapsed time.Duration)
	DeliveryFailed(info SessionInfo, recipients []string, err error, elapsed time.Duration)
}

// LogObserver writes session events to a slog.Logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns a LogObserver writing to logger, or to the default
// logger when logger is nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) with(info SessionInfo) *slog.Logger {
	l := o.logger.With("session_id", info.ID, "remote_addr", info.RemoteAddr)
	if info.TenantID != "" {
		l = l.With("tenant_id", info.TenantID)
	}
	return l
}

func (o *LogObserver) SessionOpened(info SessionInfo) {
	o.with(info).Debug("session opened", "tls", info.TLS)
}

func (o *LogObserver) SessionClosed(info SessionInfo) {
	o.with(info).Debug("session closed")
}

func (o *LogObserver) AuthSucceeded(info SessionInfo) {
	o.with(info).Info("authentication successful")
}

func (o *LogObserver) AuthFailed(info SessionInfo, tenantID, reason string, err error) {
	l := o.with(info)
	if reason == ReasonLookupError {
		l.Error("error during authentication", "tenant_id", tenantID, "reason", reason, "error", err)
		return
	}
	l.Warn("invalid credentials provided", "tenant_id", tenantID, "reason", reason)
}

func (o *LogObserver) MessageRejected(info SessionInfo, reason string, err error) {
	l := o.with(info)
	switch reason {
	case RejectNotAuthenticated:
		l.Warn("mail transaction before authentication")
	case RejectContextMissing:
		l.Error("session context is missing: tenant or secret not set")
	case RejectMissingParameters:
		l.Warn("missing required email parameters: subject, body, or recipients", "error", err)
	case RejectNoRecipients:
		l.Warn("no valid recipients found in the email")
	default:
		l.Error("error while processing the email", "reason", reason, "error", err)
	}
}

func (o *LogObserver) DeliveryStarted(info SessionInfo, recipients []string) {
	o.with(info).Info("sending email", "recipients", strings.Join(recipients, ", "))
}

func (o *LogObserver) DeliverySucceeded(info SessionInfo, recipients []string, result *delivery.Result, elapsed time.Duration) {
	l := o.with(info)
	l.Info("email successfully sent",
		"recipients", strings.Join(recipients, ", "),
		"elapsed", elapsed,
	)
	if result != nil {
		l.Debug("delivery response", "payload", result.Payload)
	}
}

func (o *LogObserver) DeliveryFailed(info SessionInfo, recipients []string, err error, elapsed time.Duration) {
	attrs := []any{
		"recipients", strings.Join(recipients, ", "),
		"elapsed", elapsed,
		"error", err,
	}
	var derr *delivery.Error
	if errors.As(err, &derr) {
		attrs = append(attrs, "status", derr.StatusCode, "temporary", derr.Temporary())
	}
	o.with(info).Error("error while sending the email", attrs...)
}

// MultiObserver fans every event out to each of its observers in order.
type MultiObserver []Observer

func (m MultiObserver) SessionOpened(info SessionInfo) {
	for _, o := range m {
		o.SessionOpened(info)
	}
}

func (m MultiObserver) SessionClosed(info SessionInfo) {
	for _, o := range m {
		o.SessionClosed(info)
	}
}

func (m MultiObserver) AuthSucceeded(info SessionInfo) {
	for _, o := range m {
		o.AuthSucceeded(info)
	}
}

func (m MultiObserver) AuthFailed(info SessionInfo, tenantID, reason string, err error) {
	for _, o := range m {
		o.AuthFailed(info, tenantID, reason, err)
	}
}

func (m MultiObserver) MessageRejected(info SessionInfo, reason string, err error) {
	for _, o := range m {
		o.MessageRejected(info, reason, err)
	}
}

func (m MultiObserver) DeliveryStarted(info SessionInfo, recipients []string) {
	for _, o := range m {
		o.DeliveryStarted(info, recipients)
	}
}

func (m MultiObserver) DeliverySucceeded(info SessionInfo, recipients []string, result *delivery.Result, elapsed time.Duration) {
	for _, o := range m {
		o.DeliverySucceeded(info, recipients, result, elapsed)
	}
}

func (m MultiObserver) DeliveryFailed(info SessionInfo, recipients []string, err error, elapsed time.Duration) {
	for _, o := range m {
		o.DeliveryFailed(info, recipients, err, elapsed)
	}
}
