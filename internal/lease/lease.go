// Package lease provides a named, time-bounded flag store. Leases are
// the one correctness-bearing mechanism in the sync pipeline: they
// keep overlapping runs from processing the same window, and they
// self-expire so a crashed run cannot deadlock future runs.
package lease

import (
	"context"
	"time"
)

// Lock and marker names used by the sync pipeline.
const (
	APISyncLock    = "punchsync:api-sync"
	DeviceSyncLock = "punchsync:device-sync"
	LastRunMarker  = "punchsync:last-run"
)

// RunLockTTL bounds the blast radius of a crashed run: a lease not
// explicitly released disappears after this long.
const RunLockTTL = 5 * time.Minute

// Store is a TTL key-value flag store.
type Store interface {
	// Acquire atomically takes the named lease if it is free or
	// expired. Returns false when the lease is currently held.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release frees the named lease. Releasing a lease that is not
	// held is not an error.
	Release(ctx context.Context, name string) error

	// Set stores a value under the key with a TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for an unexpired key. The second return
	// value reports whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	Close() error
}
