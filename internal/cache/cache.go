// Package cache implements the engine's content-addressed key/value cache:
// a fixed-capacity in-memory LRU tier and an optional disk tier sharing one
// Store interface.
package cache

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or has expired.
var ErrNotFound = errors.New("cache: not found")

// Key hashes (namespace, identifier) into the 64-bit content-addressed key
// used throughout the cache, rendered as unsigned decimal for the disk tier
// path and as a plain uint64 for the memory tier.
func Key(namespace, identifier string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(identifier))
	return h.Sum64()
}

// KeyString renders Key as unsigned decimal, matching the on-disk filename.
func KeyString(namespace, identifier string) string {
	return strconv.FormatUint(Key(namespace, identifier), 10)
}

// Entry is one cached payload plus its bookkeeping fields.
type Entry struct {
	Namespace   string
	Hash        uint64
	Payload     []byte
	SizeBytes   int64
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	AccessCount int64
}

func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Statistics are the hit/miss/eviction counters every Store tracks.
type Statistics struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Store is implemented by both the memory and disk tiers.
type Store interface {
	Get(ctx context.Context, namespace, identifier string) ([]byte, error)
	Set(ctx context.Context, namespace, identifier string, payload []byte, ttl time.Duration) error
	Remove(ctx context.Context, namespace, identifier string) error
	Clear(ctx context.Context) error
	Statistics() Statistics
	CleanupExpired(ctx context.Context) int
}
