package main

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-Id"

// requestID garante um X-Request-Id na requisição repassada e na resposta.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		ev := log.Debug()
		switch {
		case ww.Status() >= 500:
			ev = log.Warn()
		case ww.Status() == http.StatusTooManyRequests:
			ev = log.Info()
		}
		ev.Str("request_id", r.Header.Get(requestIDHeader)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// newProxyRouter envolve a cadeia de admissão + proxy com o middleware comum.
func newProxyRouter(h http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Handle("/*", h)
	return r
}

type adminDeps struct {
	gatherer   prometheus.Gatherer
	acceptor   *infra.BoundedAcceptor
	limiter    *infra.RateLimiter
	stats      *infra.MemoryStatsStore
	corsOrigin []string
}

// newAdminRouter expõe /metrics, /healthz, /readyz e /stats.
func newAdminRouter(d adminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if len(d.corsOrigin) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.corsOrigin,
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))
	}

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// readyz falha assim que o drain começa, para o balanceador tirar a instância.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		state := d.acceptor.State()
		code := http.StatusOK
		if state != domain.Listening {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"state":              state.String(),
			"active_connections": d.acceptor.ActiveCount(),
			"max_connections":    d.acceptor.Max(),
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"acceptor": map[string]any{
			"state":  d.acceptor.State().String(),
			"active": d.acceptor.ActiveCount(),
			"max":    d.acceptor.Max(),
		}}
		if d.limiter != nil {
			body["limiter"] = map[string]any{
				"rps":     d.limiter.RPS(),
				"burst":   d.limiter.Burst(),
				"buckets": d.limiter.Len(),
			}
		}
		if d.stats != nil {
			body["decisions"] = d.stats.Snapshot()
		}
		writeJSON(w, http.StatusOK, body)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write json response")
	}
}
