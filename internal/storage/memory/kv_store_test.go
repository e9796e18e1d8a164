package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"token-catalog/internal/storage"
)

func TestKVStore_SetGet(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("expected v1, got %s", got)
	}
}

func TestKVStore_GetMissing(t *testing.T) {
	store := NewKVStore()

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKVStore_Expiry(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }

	if err := store.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Still valid just before the deadline.
	current = current.Add(59 * time.Second)
	if _, err := store.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	// Expired after the deadline.
	current = current.Add(2 * time.Second)
	if _, err := store.Get(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestKVStore_Del(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, err := store.Get(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := store.Del(ctx, "k1"); err != nil {
		t.Errorf("Del of missing key failed: %v", err)
	}
}

func TestKVStore_MGet(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.SetBatch(ctx, []storage.Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "c", Value: []byte("3")},
	}); err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	results, err := store.MGet(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("MGet failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if string(results[0]) != "1" {
		t.Errorf("results[0] = %q, want 1", results[0])
	}
	if results[1] != nil {
		t.Errorf("results[1] should be nil for missing key")
	}
	if string(results[2]) != "3" {
		t.Errorf("results[2] = %q, want 3", results[2])
	}
}

func TestKVStore_ValueIsolation(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	original := []byte("abc")
	if err := store.Set(ctx, "k", original, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Mutating the caller's slice must not affect the stored value.
	original[0] = 'x'

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored value mutated: %s", got)
	}
}
