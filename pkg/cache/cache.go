// Package cache is the key-value cache used by the stackd server.
//
// Values are stored as JSON. A Client validates keys, applies the
// configured namespace prefix, default TTL and size limit, and instruments
// every call; the storage itself is delegated to a Backend (redis or an
// embedded badger database).
package cache

import (
	"context"
	"time"
)

// Cache is the operation set offered to the rest of the server.
type Cache interface {
	// Set stores value as JSON under key. A ttl <= 0 uses the default TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get decodes the value stored under key into dest. It reports false
	// with a nil error when the key does not exist or has expired.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// DeleteByPrefix removes every key starting with prefix and returns the
	// number removed. An empty prefix is rejected.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)

	Ping(ctx context.Context) error

	// Flush removes every key in the backend, not only the prefixed ones.
	Flush(ctx context.Context) error

	Close() error

	// Driver names the backend ("redis", "badger").
	Driver() string
}

// Backend is implemented by storage drivers. It works on raw bytes and
// fully qualified keys; validation and encoding happen in Client.
type Backend interface {
	Name() string
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns (nil, false, nil) for a missing key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	Ping(ctx context.Context) error
	Flush(ctx context.Context) error
	Close() error
}
