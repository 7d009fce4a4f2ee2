package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shineum/smtp-gateway/internal/delivery"
	"github.com/shineum/smtp-gateway/internal/email"
	"github.com/shineum/smtp-gateway/internal/parser"
)

// Replies that do not carry per-message detail.
var (
	errTLSRequiredReply = &gosmtp.SMTPError{
		Code:         523,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 10},
		Message:      "TLS is required",
	}
	errAuthRequiredReply = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAlreadyAuthenticatedReply = &gosmtp.SMTPError{
		Code:         503,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "Already authenticated",
	}
	errContextMissingReply = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Session context missing",
	}
	errParametersMissingReply = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "Send parameters missing",
	}
	errNoRecipientsReply = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "No valid recipients found in the email",
	}
)

// sessionDeps are the collaborators shared read-only by all sessions.
type sessionDeps struct {
	auth     *Authenticator
	delivery delivery.Client
	observer Observer
	tracer   trace.Tracer
}

// Session is one SMTP connection. go-smtp drives it from a single goroutine,
// so its fields need no locking.
type Session struct {
	sessionDeps

	id         string
	remoteAddr string
	tls        bool

	ctx    context.Context
	cancel context.CancelFunc

	state State
	from  string

	// onLogout, when set, is called once the session has closed.
	onLogout func()
}

// newSession creates a session for a connection. A connection that arrives
// with TLS already established starts Unauthenticated; go-smtp creates a new
// session after every STARTTLS, so this is also how the upgrade is observed.
func newSession(ctx context.Context, deps sessionDeps, remoteAddr string, tlsActive bool) *Session {
	state := Initial()
	if tlsActive {
		state, _ = state.StartTLS()
		state, _ = state.TLSEstablished()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		sessionDeps: deps,
		id:          uuid.NewString(),
		remoteAddr:  remoteAddr,
		tls:         tlsActive,
		ctx:         ctx,
		cancel:      cancel,
		state:       state,
	}
	s.observer.SessionOpened(s.info())
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state machine value.
func (s *Session) State() State {
	return s.state
}

func (s *Session) info() SessionInfo {
	info := SessionInfo{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		TLS:        s.tls,
	}
	if b, ok := s.state.Binding(); ok {
		info.TenantID = b.Tenant.ID
	}
	return info
}

func (s *Session) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("smtp.session_id", s.id),
		attribute.String("net.peer.addr", s.remoteAddr),
		attribute.Bool("smtp.tls", s.tls),
	))
}

// AuthMechanisms implements gosmtp.AuthSession.
func (s *Session) AuthMechanisms() []string {
	return []string{sasl.Plain, mechLogin}
}

// Auth implements gosmtp.AuthSession. The username is the tenant id and the
// password the tenant secret.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	switch s.state.Phase() {
	case Unauthenticated:
	case Connected, TLSNegotiating:
		return nil, errTLSRequiredReply
	default:
		return nil, errAlreadyAuthenticatedReply
	}

	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return gosmtp.ErrAuthFailed
			}
			return s.authenticate(username, password)
		}), nil
	case mechLogin:
		return newLoginServer(s.authenticate), nil
	default:
		return nil, gosmtp.ErrAuthUnsupported
	}
}

func (s *Session) authenticate(tenantID, secret string) error {
	ctx, span := s.startSpan(s.ctx, "smtp.auth")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	binding, err := s.auth.Verify(ctx, tenantID, secret)
	if err != nil {
		reason := authReason(err)
		span.SetAttributes(attribute.String("auth.failure_reason", reason))
		span.SetStatus(codes.Error, "authentication failed")
		s.observer.AuthFailed(s.info(), tenantID, reason, err)
		return gosmtp.ErrAuthFailed
	}

	next, err := s.state.Authenticate(binding)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrTLSRequired) {
			return errTLSRequiredReply
		}
		return errAlreadyAuthenticatedReply
	}
	s.state = next

	span.SetStatus(codes.Ok, "")
	s.observer.AuthSucceeded(s.info())
	return nil
}

// Mail implements gosmtp.Session.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.state.Phase() != Authenticated {
		s.observer.MessageRejected(s.info(), RejectNotAuthenticated, nil)
		return errAuthRequiredReply
	}
	s.from = from
	return nil
}

// Rcpt implements gosmtp.Session. Envelope recipients are accepted as is;
// the message is delivered to the addresses of its To header.
func (s *Session) Rcpt(_ string, _ *gosmtp.RcptOptions) error {
	if s.state.Phase() != Authenticated {
		return errAuthRequiredReply
	}
	return nil
}

// Data implements gosmtp.Session. The message is parsed, validated and
// handed to the delivery backend before the reply is sent. Whatever the
// outcome the session stays authenticated.
func (s *Session) Data(r io.Reader) error {
	ctx, span := s.startSpan(s.ctx, "smtp.data")
	defer span.End()

	next, binding, err := s.state.BeginData()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.observer.MessageRejected(s.info(), RejectContextMissing, err)
		return errContextMissingReply
	}
	s.state = next
	defer func() {
		s.state, _ = s.state.EndData()
	}()

	span.SetAttributes(
		attribute.String("tenant.id", binding.Tenant.ID),
		attribute.String("smtp.mail_from", s.from),
	)

	err = s.relay(ctx, binding, r)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// relay parses and validates one message and delivers it under binding.
func (s *Session) relay(ctx context.Context, binding Binding, r io.Reader) error {
	msg, err := parser.Parse(r)
	if err != nil {
		s.observer.MessageRejected(s.info(), RejectParseError, err)
		// Transport errors such as an oversized message keep their own reply.
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			return smtpErr
		}
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      oneLine(err.Error()),
		}
	}

	req, err := buildRequest(binding, msg)
	if err != nil {
		if errors.Is(err, errNoRecipients) {
			s.observer.MessageRejected(s.info(), RejectNoRecipients, err)
			return errNoRecipientsReply
		}
		s.observer.MessageRejected(s.info(), RejectMissingParameters, err)
		return errParametersMissingReply
	}

	s.observer.DeliveryStarted(s.info(), req.To)

	ctx, span := s.startSpan(ctx, "delivery.send")
	span.SetAttributes(
		attribute.String("delivery.backend", s.delivery.Name()),
		attribute.Int("delivery.recipients", len(req.To)),
	)
	defer span.End()

	start := time.Now()
	result, err := s.delivery.Send(ctx, binding.Secret, req)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		s.observer.DeliveryFailed(s.info(), req.To, err, elapsed)
		return deliveryReply(err)
	}

	s.observer.DeliverySucceeded(s.info(), req.To, result, elapsed)
	return nil
}

var (
	errParametersMissing = errors.New("send parameters missing")
	errNoRecipients      = errors.New("no valid recipients found in the email")
)

// buildRequest checks that msg carries everything delivery needs. A missing
// To header counts as a missing parameter; To headers without a single
// usable address count as no recipients.
func buildRequest(binding Binding, msg *email.Message) (delivery.Request, error) {
	switch missing := msg.Missing(); {
	case len(missing) == 1 && missing[0] == "recipients":
		return delivery.Request{}, errNoRecipients
	case len(missing) > 0:
		return delivery.Request{}, fmt.Errorf("%w: %s", errParametersMissing, strings.Join(missing, ", "))
	}
	return delivery.Request{
		From:        binding.Tenant.Email,
		To:          msg.Recipients,
		Subject:     msg.Subject.String(),
		Body:        msg.Body.String(),
		ContentType: msg.ContentType,
	}, nil
}

// deliveryReply maps a delivery failure to a transient or permanent reply
// carrying the backend's detail.
func deliveryReply(err error) *gosmtp.SMTPError {
	message := err.Error()
	var derr *delivery.Error
	if errors.As(err, &derr) && derr.Message != "" {
		message = derr.Message
	}
	message = oneLine(message)
	if delivery.IsTemporary(err) {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 0},
			Message:      message,
		}
	}
	return &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 0, 0},
		Message:      message,
	}
}

// oneLine collapses whitespace so that a backend message fits in a single
// reply line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Reset implements gosmtp.Session.
func (s *Session) Reset() {
	s.from = ""
}

// Logout implements gosmtp.Session. It abandons any in-flight delivery.
func (s *Session) Logout() error {
	info := s.info()
	s.cancel()
	s.state = s.state.Close()
	s.observer.SessionClosed(info)
	if s.onLogout != nil {
		s.onLogout()
	}
	return nil
}
