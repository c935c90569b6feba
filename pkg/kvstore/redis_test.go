package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func TestListPushPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ListPush(ctx, "q", "a", "b"))
	require.NoError(t, store.ListPush(ctx, "q", "c"))

	items, err := store.ListRange(ctx, "q", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)

	n, err := store.ListLen(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestListPopFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ListPush(ctx, "q", "first", "second"))

	v, err := store.ListPop(ctx, "q", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = store.ListPop(ctx, "q", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestHashRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.HashSet(ctx, "h", "doc1", `{"id":"doc1"}`))

	v, err := store.HashGet(ctx, "h", "doc1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"doc1"}`, v)

	all, err := store.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.HashDelete(ctx, "h", "doc1"))
	_, err = store.HashGet(ctx, "h", "doc1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
