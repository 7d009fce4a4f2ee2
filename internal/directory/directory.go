// Package directory defines the tenant lookup used to authenticate SMTP
// clients and route their mail.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned (possibly wrapped) when no tenant has the given id.
var ErrNotFound = errors.New("tenant not found")

// Tenant is a mail-submission customer. Its Secret authenticates the SMTP
// client and is also the credential used against the delivery backend.
type Tenant struct {
	ID     string
	Secret string
	// Email is the sender address used for outbound mail. Optional.
	Email string
}

// Directory looks tenants up by id. Implementations must be safe for
// concurrent use and must not modify the returned tenant afterwards.
type Directory interface {
	// Lookup returns the tenant with the given id, an error wrapping
	// ErrNotFound when there is none, or any other error when the backend
	// could not answer.
	Lookup(ctx context.Context, id string) (Tenant, error)

	// Name returns the human-readable name of this backend.
	Name() string
}
