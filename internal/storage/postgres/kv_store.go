package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"token-catalog/internal/storage"
)

// KVStore is a PostgreSQL implementation of storage.KVStore backed by a
// single kv_cache table. Expiry is enforced on read: rows whose
// expires_at has passed are treated as absent and lazily overwritten by
// the next Set.
type KVStore struct {
	pool *Pool
}

// NewKVStore creates a new PostgreSQL key-value store.
func NewKVStore(pool *Pool) *KVStore {
	return &KVStore{pool: pool}
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not
// exist or has expired.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT value
		FROM kv_cache
		WHERE key = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, key)

	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return value, nil
}

// Set stores a value under key with the given TTL (0 = no expiry).
// Uses upsert to handle initial insert and subsequent updates.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_cache (key, value, expires_at, updated_at)
		VALUES ($1, $2, expiry($3), NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
	`, key, value, ttlSeconds(ttl))

	return err
}

// Del removes a key. Deleting a missing key is not an error.
func (s *KVStore) Del(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `DELETE FROM kv_cache WHERE key = $1`, key)
	return err
}

// MGet retrieves multiple keys in one query; missing or expired keys
// yield nil in the corresponding slot.
func (s *KVStore) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	results := make([][]byte, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, value
		FROM kv_cache
		WHERE key = ANY($1)
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, key := range keys {
		results[i] = found[key]
	}
	return results, nil
}

// SetBatch stores multiple entries in one pipelined batch.
func (s *KVStore) SetBatch(ctx context.Context, entries []storage.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.Key == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(`
			INSERT INTO kv_cache (key, value, expires_at, updated_at)
			VALUES ($1, $2, expiry($3), NOW())
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value,
			    expires_at = EXCLUDED.expires_at,
			    updated_at = NOW()
		`, e.Key, e.Value, ttlSeconds(e.TTL))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ttlSeconds converts a TTL to the integer seconds the expiry() SQL
// helper expects; nil means no expiry.
func ttlSeconds(ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	seconds := int64(ttl / time.Second)
	return &seconds
}

var _ storage.KVStore = (*KVStore)(nil)
