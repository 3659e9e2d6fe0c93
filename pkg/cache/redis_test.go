package cache

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable(t *testing.T) *RedisCache {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return newRedisCache(rdb, "", 0)
}

func TestDefaults(t *testing.T) {
	c := unreachable(t)
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, "folio:answer:1", c.key("answer:1"))
}

func TestNewRedisCacheRequiresAddr(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisParams{Addr: " "})
	require.Error(t, err)
}

func TestErrorsSurface(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	var out map[string]any
	hit, err := c.Get(ctx, "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)

	assert.Error(t, c.Set(ctx, "k", map[string]any{"a": 1}))
	assert.Error(t, c.Set(ctx, "k", func() {}))
}
