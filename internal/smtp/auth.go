// Package smtp implements the SMTP submission frontend: the go-smtp backend,
// tenant authentication, and the synchronous hand-off of received messages
// to the delivery backend.
package smtp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"

	"github.com/shineum/smtp-gateway/internal/directory"
)

// mechLogin is the AUTH LOGIN mechanism name.
const mechLogin = "LOGIN"

// Reasons an authentication attempt was refused. They are only used in logs
// and metrics; the client always sees the same reply.
const (
	ReasonEmptyCredentials = "empty_credentials"
	ReasonUnknownTenant    = "unknown_tenant"
	ReasonBadSecret        = "bad_secret"
	ReasonLookupError      = "lookup_error"
)

// AuthError describes a refused authentication attempt.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Authenticator verifies SMTP AUTH credentials against the tenant directory.
// The username is the tenant id and the password the tenant secret.
type Authenticator struct {
	dir directory.Directory
}

// NewAuthenticator creates an Authenticator backed by dir.
func NewAuthenticator(dir directory.Directory) *Authenticator {
	return &Authenticator{dir: dir}
}

// Verify looks the tenant up and compares the presented secret with the
// stored one in constant time. Empty credentials never authenticate, so a
// tenant stored without a secret cannot log in.
func (a *Authenticator) Verify(ctx context.Context, tenantID, secret string) (Binding, error) {
	if tenantID == "" || secret == "" {
		return Binding{}, &AuthError{Reason: ReasonEmptyCredentials}
	}

	tenant, err := a.dir.Lookup(ctx, tenantID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Binding{}, &AuthError{Reason: ReasonUnknownTenant, Err: err}
		}
		return Binding{}, &AuthError{Reason: ReasonLookupError, Err: err}
	}

	if subtle.ConstantTimeCompare([]byte(tenant.Secret), []byte(secret)) != 1 {
		return Binding{}, &AuthError{Reason: ReasonBadSecret}
	}

	return Binding{Tenant: tenant, Secret: secret}, nil
}

// authReason returns the refusal reason carried by err.
func authReason(err error) string {
	var aerr *AuthError
	if errors.As(err, &aerr) {
		return aerr.Reason
	}
	return ReasonLookupError
}

// loginServer implements the server side of AUTH LOGIN: base64 "Username:"
// and "Password:" challenges, with an optional initial response carrying
// the username.
type loginServer struct {
	authenticate func(username, password string) error
	step         int
	username     string
}

var errUnexpectedLoginResponse = errors.New("unexpected AUTH LOGIN response")

func newLoginServer(authenticate func(username, password string) error) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

// Next implements sasl.Server.
func (s *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.step {
	case 0:
		if response == nil {
			s.step = 1
			return []byte("Username:"), false, nil
		}
		s.username = string(response)
		s.step = 2
		return []byte("Password:"), false, nil
	case 1:
		s.username = string(response)
		s.step = 2
		return []byte("Password:"), false, nil
	case 2:
		s.step = 3
		return nil, true, s.authenticate(s.username, string(response))
	default:
		return nil, true, errUnexpectedLoginResponse
	}
}
