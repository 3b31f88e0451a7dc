package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestSynthQueryRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := New(addr, "", 0)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	key := "test-" + time.Now().Format("150405.000000000")
	_, err := s.GetSynthQuery(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)

	require.NoError(t, s.SetSynthQuery(ctx, key, "drawdown in gold", time.Minute))
	got, err := s.GetSynthQuery(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "drawdown in gold", got)
}
