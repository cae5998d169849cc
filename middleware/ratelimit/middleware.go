package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

// CostFunc define quantas unidades da quota a requisição consome.
type CostFunc func(r *http.Request) uint32

type Options struct {
	// Limiter padrão. Nil desliga o rate limit (exceto rotas em Routes).
	Limiter domain.Limiter
	// Routes tem limiters dedicados por rota, chave "METHOD /path" (match exato).
	Routes map[string]domain.Limiter
	Cost   CostFunc
	Stats  domain.StatsStore

	KeyFn             KeyFunc
	KeyHeader         string
	TrustProxyHeaders bool
	IPv6Mask          bool

	RejectStatus        int
	AddRateLimitHeaders bool
}

type rateInfo interface {
	RPS() float64
	Burst() float64
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = NewKeyFunc(KeyOptions{
			Header:            opts.KeyHeader,
			TrustProxyHeaders: opts.TrustProxyHeaders,
			IPv6Mask:          opts.IPv6Mask,
		})
	}

	services := make(map[string]application.Service, len(opts.Routes))
	for route, lim := range opts.Routes {
		services[route] = application.Service{Limiter: lim, Stats: opts.Stats}
	}
	fallback := application.Service{Limiter: opts.Limiter, Stats: opts.Stats}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc, ok := services[r.Method+" "+r.URL.Path]
			if !ok {
				svc = fallback
			}
			if svc.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := opts.KeyFn(r)
			cost := uint32(1)
			if opts.Cost != nil {
				cost = opts.Cost(r)
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := svc.Limiter.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatFloat(ri.Burst()))
				}
			}

			dec := svc.Decide(r.Context(), application.Request{
				Key:    domain.Key(key),
				Cost:   cost,
				Method: r.Method,
				Path:   r.URL.Path,
			})
			if !dec.Allowed {
				writeRejection(w, opts.RejectStatus, dec.RetryAfter)
				return
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("RateLimit-Remaining", formatInt64(dec.Remaining))
				w.Header().Set("RateLimit-Reset", formatInt64(retryAfterSeconds(dec.ResetAfter, 0)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRejection(w http.ResponseWriter, status int, retryAfter time.Duration) {
	secs := formatInt64(retryAfterSeconds(retryAfter, 1))
	h := w.Header()
	h.Set("Retry-After", secs)
	h.Set("RateLimit-Reset", secs)
	h.Set("X-RateLimit-Reset", secs)
	h.Set("RateLimit-Remaining", "0")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("rate limit exceeded, retry in " +
		strconv.FormatFloat(retryAfter.Seconds(), 'f', 3, 64) + " seconds\n"))
}

// retryAfterSeconds arredonda para cima: o cliente nunca volta cedo demais.
func retryAfterSeconds(d time.Duration, min int64) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < min {
		return min
	}
	return s
}
