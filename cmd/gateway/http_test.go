package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T) (http.Handler, *infra.BoundedAcceptor) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := infra.NewPrometheusMetrics(reg)

	acceptor, err := infra.NewBoundedAcceptor(2, infra.WithAcceptorMetrics(metrics))
	require.NoError(t, err)
	limiter, err := infra.NewRateLimiter(domain.LimiterConfig{Rate: 5, Burst: 10, ShardCount: 2, BucketTTL: time.Minute})
	require.NoError(t, err)

	return newAdminRouter(adminDeps{
		gatherer: reg,
		acceptor: acceptor,
		limiter:  limiter,
		stats:    infra.NewMemoryStatsStore(),
	}), acceptor
}

func TestAdminRouter_ReadyzFollowsDrain(t *testing.T) {
	h, acceptor := newTestAdmin(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	acceptor.BeginDrain()

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"draining"`)
}

func TestAdminRouter_MetricsAndStats(t *testing.T) {
	h, _ := newTestAdmin(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admission_acceptor_state")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "limiter")
	assert.Contains(t, body, "decisions")
}

func TestProxyRouter_SetsRequestID(t *testing.T) {
	var seen string
	h := newProxyRouter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(requestIDHeader)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/any/path", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(requestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(requestIDHeader, "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.True(t, strings.EqualFold("abc", w.Header().Get(requestIDHeader)))
}
