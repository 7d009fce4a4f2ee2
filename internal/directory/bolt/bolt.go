// Package bolt implements a Directory stored in a bbolt database file.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/shineum/smtp-gateway/internal/directory"
)

// DefaultBucket holds one JSON record per tenant, keyed by tenant id.
const DefaultBucket = "tenants"

// Record is the JSON value stored for each tenant.
type Record struct {
	Secret string `json:"secret"`
	Email  string `json:"email,omitempty"`
}

// Directory reads tenants from a bbolt bucket.
type Directory struct {
	db     *bolt.DB
	bucket []byte
}

// Open opens the database at path read-only.
func Open(path, bucket string) (*Directory, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant database: %w", err)
	}
	return &Directory{db: db, bucket: []byte(bucket)}, nil
}

// Close closes the database.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Lookup returns the tenant stored under id.
func (d *Directory) Lookup(_ context.Context, id string) (directory.Tenant, error) {
	var rec Record
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return fmt.Errorf("bucket %q does not exist", d.bucket)
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return directory.Tenant{}, fmt.Errorf("bolt lookup of tenant %q: %w", id, err)
	}
	if !found {
		return directory.Tenant{}, fmt.Errorf("tenant %q: %w", id, directory.ErrNotFound)
	}

	return directory.Tenant{
		ID:     id,
		Secret: rec.Secret,
		Email:  rec.Email,
	}, nil
}

// Name returns the backend name.
func (d *Directory) Name() string {
	return "bolt"
}

// Put writes a tenant into the bucket of the database at path, creating both
// when needed. It is meant for provisioning tools and tests; the gateway
// itself only reads.
func Put(path, bucket string, t directory.Tenant) error {
	if t.ID == "" || t.Secret == "" {
		return fmt.Errorf("tenant %q: id and secret are required", t.ID)
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open tenant database: %w", err)
	}
	defer db.Close()

	value, err := json.Marshal(Record{Secret: t.Secret, Email: t.Email})
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(t.ID), value)
	})
}
