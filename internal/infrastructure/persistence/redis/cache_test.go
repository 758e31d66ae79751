package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/internal/application/query"
)

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:secret@cache.internal:6380/3"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestCache_ArgumentChecks(t *testing.T) {
	c := NewCacheWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "t:")
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
	assert.ErrorIs(t, NewProgressCache(c, 0).SetProgress(ctx, nil), ErrCacheNilValue)
}

func TestNewCache_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", 1
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 0

	_, err := NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestProgressKey(t *testing.T) {
	assert.Equal(t, "progress:s1", ProgressKey("s1"))
}

// TestProgressCache_Redis runs against a live server when COOP_TEST_REDIS_URL is set.
func TestProgressCache_Redis(t *testing.T) {
	url := os.Getenv("COOP_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COOP_TEST_REDIS_URL not set")
	}
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.KeyPrefix = "coop-test:"
	ctx := context.Background()

	c, err := NewCache(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	pc := NewProgressCache(c, time.Minute)
	t.Cleanup(func() { _ = pc.InvalidateAll(ctx) })

	_, err = pc.GetProgress(ctx, "s1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, pc.SetProgress(ctx, &query.ProgressDTO{
		StudentID: "s1", ApprovedHours: 12, RequiredHours: 30, Shortfall: 18, Message: "18 more hours needed",
	}))
	got, err := pc.GetProgress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 12, got.ApprovedHours)
	assert.Equal(t, "18 more hours needed", got.Message)

	ttl, err := c.TTL(ctx, ProgressKey("s1"))
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	require.NoError(t, pc.InvalidateProgress(ctx, "s1"))
	exists, err := c.Exists(ctx, ProgressKey("s1"))
	require.NoError(t, err)
	assert.False(t, exists)
}
