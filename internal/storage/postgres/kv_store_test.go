package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"token-catalog/internal/storage"
)

func TestKVStore_SetGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewKVStore(pool)
	ctx := context.Background()

	err := store.Set(ctx, "tokens:unvalidated", []byte(`[{"id":"0xabc:8453"}]`), 0)
	require.NoError(t, err)

	got, err := store.Get(ctx, "tokens:unvalidated")
	require.NoError(t, err)
	require.Equal(t, `[{"id":"0xabc:8453"}]`, string(got))
}

func TestKVStore_Upsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewKVStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v1"), 0))
	require.NoError(t, store.Set(ctx, "k", []byte("v2"), time.Hour))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))
}

func TestKVStore_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewKVStore(pool)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKVStore_Expiry(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewKVStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))

	got, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.Equal(t, "v", string(got))

	time.Sleep(1500 * time.Millisecond)

	_, err = store.Get(ctx, "short")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKVStore_Del(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewKVStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.Del(ctx, "k"))

	_, err := store.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Del(ctx, "k"))
}

func TestKVStore_MGetAndSetBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewKVStore(pool)
	ctx := context.Background()

	err := store.SetBatch(ctx, []storage.Entry{
		{Key: "p_v2_8453_0xaaa", Value: []byte("1.5"), TTL: 5 * time.Minute},
		{Key: "p_v2_8453_0xbbb", Value: []byte("0"), TTL: 5 * time.Minute},
	})
	require.NoError(t, err)

	results, err := store.MGet(ctx, []string{"p_v2_8453_0xaaa", "p_v2_8453_0xmissing", "p_v2_8453_0xbbb"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "1.5", string(results[0]))
	require.Nil(t, results[1])
	require.Equal(t, "0", string(results[2]))
}
