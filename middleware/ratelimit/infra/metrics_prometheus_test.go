package infra

import (
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestPrometheusMetrics_LimiterAndAcceptor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	l, err := NewRateLimiter(domain.LimiterConfig{
		Rate: 1, Burst: 1, ShardCount: 2, BucketTTL: time.Second,
	}, WithClock(clk), WithMetrics(m))
	require.NoError(t, err)

	l.Check("a")
	l.Check("a")
	clk.Step(2 * time.Second)
	l.Sweep()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evicted))

	a, err := NewBoundedAcceptor(1, WithAcceptorMetrics(m))
	require.NoError(t, err)
	s, err := a.TryAdmit()
	require.NoError(t, err)
	_, _ = a.TryAdmit()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues(domain.AdmissionAdmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues(domain.AdmissionAtCapacity)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))

	a.BeginDrain()
	s.Release()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))
	assert.Equal(t, float64(domain.Draining), testutil.ToFloat64(m.state))
}

func TestPrometheusMetrics_ActiveConnectionsReadsAcceptor(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))

	a, err := NewBoundedAcceptor(16, WithAcceptorMetrics(m))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held []domain.Slot
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s, err := a.TryAdmit()
				if err != nil {
					continue
				}
				if i == 199 {
					mu.Lock()
					held = append(held, s)
					mu.Unlock()
					return
				}
				s.Release()
			}
		}()
	}
	wg.Wait()

	// admissões e liberações concorrentes não deixam o gauge defasado
	assert.Equal(t, float64(a.ActiveCount()), testutil.ToFloat64(m.active))
	assert.Equal(t, len(held), a.ActiveCount())

	for _, s := range held {
		s.Release()
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))
}
