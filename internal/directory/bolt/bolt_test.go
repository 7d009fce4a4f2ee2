package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shineum/smtp-gateway/internal/directory"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tenants.db")
	want := directory.Tenant{ID: "proj_1", Secret: "s3cr3t", Email: "noreply@example.com"}
	if err := Put(path, "", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := Put(path, "", directory.Tenant{ID: "proj_2", Secret: "x"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	got, err := d.Lookup(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("Lookup: unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("Lookup: got %+v, want %+v", got, want)
	}

	_, err = d.Lookup(context.Background(), "proj_404")
	if !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLookup_MissingBucket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tenants.db")
	if err := Put(path, "other", directory.Tenant{ID: "proj_1", Secret: "x"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	_, err = d.Lookup(context.Background(), "proj_1")
	if err == nil {
		t.Fatal("expected error for missing bucket, got nil")
	}
	if errors.Is(err, directory.ErrNotFound) {
		t.Error("a missing bucket is a backend error, not an unknown tenant")
	}
}

func TestPut_RequiresSecret(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tenants.db")
	if err := Put(path, "", directory.Tenant{ID: "proj_1"}); err == nil {
		t.Error("expected error for tenant without secret, got nil")
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Open(filepath.Join(t.TempDir(), "missing.db"), ""); err == nil {
		t.Error("expected error for missing database, got nil")
	}
}
