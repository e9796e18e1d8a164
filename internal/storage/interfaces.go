package storage

import (
	"context"
	"time"

	"token-catalog/internal/domain"
)

// Entry is one key/value pair for batched writes.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration // 0 means no expiry
}

// KVStore provides access to the durable key-value cache shared by all
// components. Implementations are eventually consistent and offer no
// transactions; callers treat misses and staleness as a trigger to
// recompute, never as an error.
type KVStore interface {
	// Get retrieves a value by key. Returns ErrNotFound if the key does
	// not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value under key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// MGet retrieves multiple keys in one round trip. The result has
	// one element per requested key; missing or expired keys yield nil.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// SetBatch stores multiple entries in one pipelined write.
	SetBatch(ctx context.Context, entries []Entry) error
}

// PriceHistoryStore records resolved price points for later analysis.
type PriceHistoryStore interface {
	// InsertBulk appends multiple observations.
	InsertBulk(ctx context.Context, observations []*domain.PriceObservation) error
}
