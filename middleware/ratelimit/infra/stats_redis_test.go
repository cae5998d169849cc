package infra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStatsStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	prefix := fmt.Sprintf("it_stats_%d", time.Now().UnixNano())
	s := NewRedisStatsStore(client, WithStatsPrefix(prefix+":"), WithStatsTTL(time.Minute), WithStatsTrackKeys(true))
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "k", Allowed: true, Cost: 3, Method: "GET", Path: "/a"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "k", Allowed: false, Cost: 1, Method: "GET", Path: "/a"}))

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counters{Allowed: 1, Denied: 1, Cost: 3}, totals)

	route, err := client.HGet(ctx, prefix+":route", "GET /a:denied").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), route)

	ttl, err := client.TTL(ctx, prefix+":key:k").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestRedisStatsStore_NilClientIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))
}
