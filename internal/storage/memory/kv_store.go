package memory

import (
	"context"
	"sync"
	"time"

	"token-catalog/internal/storage"
)

// entry is one stored value with its expiry deadline.
type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// KVStore is an in-memory implementation of storage.KVStore, used by
// tests and by the -use-memory server mode.
type KVStore struct {
	mu   sync.RWMutex
	data map[string]entry

	// now is replaceable by tests to control expiry.
	now func() time.Time
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not
// exist or has expired.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok || s.expired(e) {
		return nil, storage.ErrNotFound
	}

	valueCopy := make([]byte, len(e.value))
	copy(valueCopy, e.value)
	return valueCopy, nil
}

// Set stores a value under key with the given TTL (0 = no expiry).
func (s *KVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl)
	return nil
}

// Del removes a key. Deleting a missing key is not an error.
func (s *KVStore) Del(_ context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// MGet retrieves multiple keys; missing or expired keys yield nil.
func (s *KVStore) MGet(_ context.Context, keys []string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([][]byte, len(keys))
	for i, key := range keys {
		e, ok := s.data[key]
		if !ok || s.expired(e) {
			continue
		}
		valueCopy := make([]byte, len(e.value))
		copy(valueCopy, e.value)
		results[i] = valueCopy
	}
	return results, nil
}

// SetBatch stores multiple entries at once.
func (s *KVStore) SetBatch(_ context.Context, entries []storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.Key == "" {
			return storage.ErrInvalidInput
		}
		s.put(e.Key, e.Value, e.TTL)
	}
	return nil
}

func (s *KVStore) put(key string, value []byte, ttl time.Duration) {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	e := entry{value: valueCopy}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
}

func (s *KVStore) expired(e entry) bool {
	return !e.expiresAt.IsZero() && s.now().After(e.expiresAt)
}

var _ storage.KVStore = (*KVStore)(nil)
