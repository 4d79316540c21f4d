// Package store defines the ephemeral keyed store backing all 2FA
// sessions. Values carry a physical TTL; logical session expiry is
// re-derived by readers from the record itself, so a value may outlive
// its logical deadline by a grace period and still answer "expired"
// instead of "not found".
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key is absent or its
// physical TTL has elapsed.
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is the minimal contract the session repositories need.
// The in-memory implementation in this package serves development and
// tests; production deployments inject a shared backend behind the same
// interface.
type KeyValueStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
