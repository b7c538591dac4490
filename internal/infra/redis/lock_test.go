//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-token-ledger/internal/config"
	"inapp-token-ledger/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	c, err := NewClient(context.Background(), &config.RedisConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	l := NewLocker(c)
	l.backoff = time.Millisecond

	t.Run("should hand the lock to one holder at a time", func(t *testing.T) {
		key := "test-lock:" + time.Now().Format(time.RFC3339Nano)
		tok, err := l.TryLock(ctx, key, time.Minute)
		require.NoError(t, err)

		_, err = l.TryLock(ctx, key, time.Minute)
		assert.ErrorIs(t, err, domain.ErrLocked)

		require.NoError(t, l.Unlock(ctx, key, tok))
		tok2, err := l.TryLock(ctx, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, l.Unlock(ctx, key, tok2))
	})

	t.Run("Unlock with a stale token should keep the current holder", func(t *testing.T) {
		key := "test-lock-stale:" + time.Now().Format(time.RFC3339Nano)
		tok, err := l.TryLock(ctx, key, time.Minute)
		require.NoError(t, err)

		require.NoError(t, l.Unlock(ctx, key, "not-the-owner"))
		_, err = l.TryLock(ctx, key, time.Minute)
		assert.ErrorIs(t, err, domain.ErrLocked)
		require.NoError(t, l.Unlock(ctx, key, tok))
	})

	t.Run("Get should report a missing key as a cache miss", func(t *testing.T) {
		_, err := c.Get(ctx, "test-missing:"+time.Now().Format(time.RFC3339Nano))
		assert.ErrorIs(t, err, ErrCacheMiss)
	})
}
