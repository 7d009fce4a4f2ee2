// Package file implements a Directory backed by a YAML tenant table.
package file

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-gateway/internal/directory"
)

// Document is the on-disk layout:
//
//	tenants:
//	  - id: proj_1
//	    secret: s3cr3t
//	    email: noreply@example.com
type Document struct {
	Tenants []Entry `yaml:"tenants"`
}

// Entry is one tenant in the YAML file.
type Entry struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
	Email  string `yaml:"email"`
}

// Directory serves lookups from a table read once at startup.
type Directory struct {
	tenants map[string]directory.Tenant
}

// Load reads and validates the tenant file at path.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tenant file: %w", err)
	}

	return New(doc.Tenants)
}

// New builds a Directory from entries. Ids must be non-empty and unique and
// every tenant needs a secret.
func New(entries []Entry) (*Directory, error) {
	tenants := make(map[string]directory.Tenant, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("tenant %d: missing id", i)
		}
		if e.Secret == "" {
			return nil, fmt.Errorf("tenant %q: missing secret", e.ID)
		}
		if _, dup := tenants[e.ID]; dup {
			return nil, fmt.Errorf("tenant %q: duplicate id", e.ID)
		}
		tenants[e.ID] = directory.Tenant{
			ID:     e.ID,
			Secret: e.Secret,
			Email:  e.Email,
		}
	}
	return &Directory{tenants: tenants}, nil
}

// Lookup returns the tenant with the given id.
func (d *Directory) Lookup(_ context.Context, id string) (directory.Tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return directory.Tenant{}, fmt.Errorf("tenant %q: %w", id, directory.ErrNotFound)
	}
	return t, nil
}

// Len returns the number of tenants loaded.
func (d *Directory) Len() int {
	return len(d.tenants)
}

// Name returns the backend name.
func (d *Directory) Name() string {
	return "file"
}
