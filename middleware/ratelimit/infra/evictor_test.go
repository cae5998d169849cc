package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestEvictor_PeriodicSweepRemovesIdleBuckets(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	l, err := NewRateLimiter(domain.LimiterConfig{
		Rate:          10,
		Burst:         1,
		ShardCount:    4,
		BucketTTL:     time.Minute,
		SweepInterval: 10 * time.Second,
	}, WithClock(clk))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.StartEvictor(ctx)
	defer l.Close()

	l.Check("a")
	l.Check("b")
	require.Equal(t, 2, l.Len())

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(61 * time.Second)

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)
}

func TestEvictor_StopIsIdempotentAndWaits(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	store := NewShardedStore(1)
	e := NewEvictor(store, clk, func() int64 { return 0 }, time.Minute, time.Second, nil)

	e.Start(context.Background())
	e.Start(context.Background())
	e.Stop()
	e.Stop()
}

func TestEvictor_DisabledIntervalDoesNotStart(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	e := NewEvictor(NewShardedStore(1), clk, func() int64 { return 0 }, time.Minute, -1, nil)

	e.Start(context.Background())
	assert.False(t, clk.HasWaiters())
	e.Stop()
}

func TestEvictor_RestartsAfterContextCancel(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	l, err := NewRateLimiter(domain.LimiterConfig{
		Rate:          10,
		Burst:         1,
		ShardCount:    4,
		BucketTTL:     time.Minute,
		SweepInterval: 10 * time.Second,
	}, WithClock(clk))
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l.StartEvictor(ctx)
	cancel()

	require.Eventually(t, func() bool {
		l.evictor.mu.Lock()
		defer l.evictor.mu.Unlock()
		return l.evictor.done == nil
	}, time.Second, time.Millisecond)

	l.Check("a")
	l.StartEvictor(context.Background())
	clk.Step(2 * time.Minute)

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)
}
