// Package redis implements a Directory stored in Redis hashes.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shineum/smtp-gateway/internal/directory"
)

// DefaultKeyPrefix is prepended to the tenant id to form the hash key.
const DefaultKeyPrefix = "tenant|"

// Directory reads tenants from hashes shaped like
//
//	key    - tenant|proj_1
//	secret - s3cr3t
//	email  - noreply@example.com
type Directory struct {
	Client    *redis.Client
	KeyPrefix string
}

// record is the hash layout of one tenant.
type record struct {
	Secret string `redis:"secret"`
	Email  string `redis:"email"`
}

// New connects to the Redis server described by url (redis://...).
func New(url, keyPrefix string) (*Directory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Directory{
		Client:    redis.NewClient(opts),
		KeyPrefix: keyPrefix,
	}, nil
}

// Ping tests the connection to redis.
func (d *Directory) Ping(ctx context.Context) error {
	return d.Client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (d *Directory) Close() error {
	return d.Client.Close()
}

func (d *Directory) key(id string) string {
	return d.KeyPrefix + id
}

// Lookup returns the tenant stored under the id's hash.
func (d *Directory) Lookup(ctx context.Context, id string) (directory.Tenant, error) {
	res := d.Client.HGetAll(ctx, d.key(id))
	values, err := res.Result()
	if err != nil {
		return directory.Tenant{}, fmt.Errorf("redis lookup of tenant %q: %w", id, err)
	}
	// HGETALL on a missing key yields an empty hash, not redis.Nil.
	if len(values) == 0 {
		return directory.Tenant{}, fmt.Errorf("tenant %q: %w", id, directory.ErrNotFound)
	}

	var rec record
	if err := res.Scan(&rec); err != nil {
		return directory.Tenant{}, fmt.Errorf("decoding tenant %q: %w", id, err)
	}

	return directory.Tenant{
		ID:     id,
		Secret: rec.Secret,
		Email:  rec.Email,
	}, nil
}

// Name returns the backend name.
func (d *Directory) Name() string {
	return "redis"
}
