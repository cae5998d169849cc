package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog/log"
)

func main() {
	// Exemplo: injetando os middlewares diretamente no seu webserver (sem proxy)
	cfg := domain.DefaultLimiterConfig()
	cfg.Rate, cfg.Burst = 5, 10
	limiter, err := infra.NewRateLimiter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("rate limiter config error")
	}
	// login mais restrito: 1 tentativa a cada 5s, rajada de 3
	loginLimiter, err := infra.NewRateLimiter(domain.LimiterConfig{
		Rate:       0.2,
		Burst:      3,
		ShardCount: 4,
		BucketTTL:  10 * time.Minute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("login limiter config error")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	limiter.StartEvictor(ctx)
	loginLimiter.StartEvictor(ctx)
	defer limiter.Close()
	defer loginLimiter.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Limiter:             limiter,
		Routes:              map[string]domain.Limiter{"POST /login": loginLimiter},
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustProxyHeaders:   true,
		AddRateLimitHeaders: true,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	acceptor, err := infra.NewBoundedAcceptor(256)
	if err != nil {
		log.Fatal().Err(err).Msg("acceptor config error")
	}
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("listen error")
	}
	ln := infra.NewBoundedListener(inner, acceptor, infra.WithPerIPLimit(32))

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ln.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
