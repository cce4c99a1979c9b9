// Package kv defines the key-value store contract the reconciliation engine
// depends on, together with a Redis-backed implementation for deployments and
// an in-memory implementation for tests.
//
// The store is the durable memory of the engine: identity mappings, cached
// previous key states, audit exception records and the current iLOQ customer
// code all live behind this interface.
package kv

import (
	"context"
	"time"
)

// Store is the operation contract consumed by the reconciliation engine.
// All operations are blocking request/response calls without transactions;
// callers must not assume atomicity across two calls.
type Store interface {
	// Get returns the value stored under key, or errors.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetEx stores value under key with the given time to live.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// GetSet returns the members of the set stored under key.
	// A missing key yields an empty slice, not an error.
	GetSet(ctx context.Context, key string) ([]string, error)

	// AddSet adds members to the set stored under key, creating it if needed.
	AddSet(ctx context.Context, key string, members ...string) error

	// Keys returns all keys starting with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
