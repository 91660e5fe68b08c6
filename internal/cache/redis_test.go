package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/zapbot/internal/config"
)

// Runs against a real server when ZAPBOT_TEST_REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("ZAPBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ZAPBOT_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, config.RedisConfig{Enabled: true, Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	prefix := "test:" + uuid.NewString() + ":"

	require.NoError(t, r.Set(ctx, prefix+"k", "v", time.Minute))
	v, ok, err := r.Get(ctx, prefix+"k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, r.Delete(ctx, prefix+"k"))
	_, ok, err = r.Get(ctx, prefix+"k")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Append(ctx, prefix+"list", s, 3, time.Minute))
	}
	list, err := r.Range(ctx, prefix+"list")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, list)
	require.NoError(t, r.Delete(ctx, prefix+"list"))
}
