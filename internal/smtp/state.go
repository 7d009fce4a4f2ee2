package smtp

import (
	"errors"

	"github.com/shineum/smtp-gateway/internal/directory"
)

// Phase is the position of a session in the SMTP state machine.
type Phase int

// Session phases.
const (
	Connected Phase = iota
	TLSNegotiating
	Unauthenticated
	Authenticated
	ReceivingData
	Closed
)

func (p Phase) String() string {
	switch p {
	case Connected:
		return "connected"
	case TLSNegotiating:
		return "tls_negotiating"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case ReceivingData:
		return "receiving_data"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrTLSRequired is returned when authentication is attempted on a
	// connection that has not completed STARTTLS.
	ErrTLSRequired = errors.New("TLS is required before authentication")

	// ErrInvalidTransition is returned for a transition the current phase
	// does not allow.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrContextMissing is returned when a message arrives on a session
	// with no authenticated tenant.
	ErrContextMissing = errors.New("session context missing")
)

// Binding is the tenant a session authenticated as, together with the
// secret it presented. The secret is the delivery credential.
type Binding struct {
	Tenant directory.Tenant
	Secret string
}

// State is an immutable session state value. Transitions return a new State
// and never modify the receiver.
type State struct {
	phase   Phase
	binding *Binding
}

// Initial returns the state of a freshly accepted connection.
func Initial() State {
	return State{phase: Connected}
}

// Phase returns the current phase.
func (s State) Phase() Phase {
	return s.phase
}

// Binding returns the authenticated tenant binding, if any.
func (s State) Binding() (Binding, bool) {
	if s.binding == nil {
		return Binding{}, false
	}
	return *s.binding, true
}

// StartTLS moves a plaintext connection into TLS negotiation.
func (s State) StartTLS() (State, error) {
	if s.phase != Connected {
		return s, ErrInvalidTransition
	}
	return State{phase: TLSNegotiating}, nil
}

// TLSEstablished completes TLS negotiation.
func (s State) TLSEstablished() (State, error) {
	if s.phase != TLSNegotiating {
		return s, ErrInvalidTransition
	}
	return State{phase: Unauthenticated}, nil
}

// Authenticate binds the session to a tenant. It is only valid once TLS is
// established and before any other authentication succeeded.
func (s State) Authenticate(b Binding) (State, error) {
	switch s.phase {
	case Unauthenticated:
		return State{phase: Authenticated, binding: &b}, nil
	case Connected, TLSNegotiating:
		return s, ErrTLSRequired
	default:
		return s, ErrInvalidTransition
	}
}

// BeginData starts receiving a message and returns the binding the message
// will be delivered under.
func (s State) BeginData() (State, Binding, error) {
	if s.phase != Authenticated || s.binding == nil {
		return s, Binding{}, ErrContextMissing
	}
	return State{phase: ReceivingData, binding: s.binding}, *s.binding, nil
}

// EndData finishes a message, whatever its outcome, and returns the session
// to Authenticated so that further messages can be sent.
func (s State) EndData() (State, error) {
	if s.phase != ReceivingData {
		return s, ErrInvalidTransition
	}
	return State{phase: Authenticated, binding: s.binding}, nil
}

// Close ends the session from any phase.
func (s State) Close() State {
	return State{phase: Closed}
}
