package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shineum/smtp-gateway/internal/directory"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write tenant file: %v", err)
	}
	return path
}

func TestLoad_Lookup(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
tenants:
  - id: proj_1
    secret: s3cr3t
    email: noreply@example.com
  - id: proj_2
    secret: other
`)

	d, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", d.Len())
	}

	got, err := d.Lookup(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("Lookup: unexpected error: %v", err)
	}
	want := directory.Tenant{ID: "proj_1", Secret: "s3cr3t", Email: "noreply@example.com"}
	if got != want {
		t.Errorf("Lookup: got %+v, want %+v", got, want)
	}

	got, err = d.Lookup(context.Background(), "proj_2")
	if err != nil {
		t.Fatalf("Lookup: unexpected error: %v", err)
	}
	if got.Email != "" {
		t.Errorf("Email: got %q, want empty", got.Email)
	}
}

func TestLookup_NotFound(t *testing.T) {
	t.Parallel()

	d, err := New([]Entry{{ID: "proj_1", Secret: "s3cr3t"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = d.Lookup(context.Background(), "proj_404")
	if !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
	}{
		{name: "missing id", entries: []Entry{{Secret: "x"}}},
		{name: "missing secret", entries: []Entry{{ID: "a"}}},
		{name: "duplicate id", entries: []Entry{{ID: "a", Secret: "x"}, {ID: "a", Secret: "y"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.entries); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	}

	path := writeFile(t, "tenants: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	d, _ := New(nil)
	if d.Name() != "file" {
		t.Errorf("Name: got %q, want %q", d.Name(), "file")
	}
}
