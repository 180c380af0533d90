package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisAddr() string {
	if addr := os.Getenv("MICROTASK_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func setupTestCache(t *testing.T, prefix string) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr()})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr(), err)
	}
	c := New(client, prefix, time.Minute)
	require.NoError(t, c.Flush(ctx))
	t.Cleanup(func() {
		_ = c.Flush(ctx)
		c.Close()
	})
	return c
}

func TestNilCacheAlwaysMisses(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	var dest map[string]int
	found, err := c.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}))
	require.NoError(t, c.Flush(ctx))
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Close())
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestConnectWithoutAddress(t *testing.T) {
	c, err := Connect(context.Background(), "", "mt:", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetGetFlush(t *testing.T) {
	c := setupTestCache(t, "mt-test:")
	ctx := context.Background()

	type stats struct {
		Total int64 `json:"total"`
	}
	var got stats
	found, err := c.Get(ctx, "admin", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "admin", stats{Total: 42}))
	found, err = c.Get(ctx, "admin", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 42, got.Total)

	require.NoError(t, c.Flush(ctx))
	found, err = c.Get(ctx, "admin", &got)
	require.NoError(t, err)
	assert.False(t, found)

	snap := c.Snapshot()
	assert.EqualValues(t, 1, snap.Hits)
	assert.EqualValues(t, 2, snap.Misses)
	assert.EqualValues(t, 1, snap.Sets)
}
