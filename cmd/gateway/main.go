package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/internal/tlsutil"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	setupLogging(cfg.logLevel, cfg.logFormat)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid UPSTREAM_URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infra.NewPrometheusMetrics(reg)

	limiter, err := infra.NewRateLimiter(domain.LimiterConfig{
		Rate:          cfg.rateRPS,
		Burst:         cfg.rateBurst,
		ShardCount:    cfg.rateShards,
		BucketTTL:     cfg.rateBucketTTL,
		SweepInterval: cfg.rateSweepInterval,
	}, infra.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("rate limiter config error")
	}

	memStats := infra.NewMemoryStatsStore()
	var redisStats domain.StatsStore
	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.rateStatsRedisAddr).Msg("redis stats ping error")
		}

		redisStats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
	}
	statsStore := infra.NewTeeStatsStore(memStats, redisStats)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	limiter.StartEvictor(ctx)
	defer limiter.Close()

	h := http.Handler(proxy)
	// métricas do acceptor ficam com o listener; o limite por requisição não reporta
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: cfg.concurrencyMax})(h)
	if cfg.rateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Limiter:             limiter,
			Stats:               statsStore,
			KeyHeader:           cfg.rateKeyHeader,
			TrustProxyHeaders:   cfg.trustProxy,
			IPv6Mask:            cfg.ipv6Mask,
			AddRateLimitHeaders: cfg.addHeaders,
		})(h)
	}

	acceptor, err := infra.NewBoundedAcceptor(cfg.maxConnections, infra.WithAcceptorMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("acceptor config error")
	}
	inner, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.listenAddr).Msg("listen error")
	}
	bounded := infra.NewBoundedListener(inner, acceptor,
		infra.WithPerIPLimit(cfg.maxConnectionsPerIP),
		infra.WithAcceptRate(cfg.acceptRate, cfg.acceptBurst),
		infra.WithListenerMetrics(metrics),
	)

	// o TLS fica por cima: a admissão acontece antes do handshake.
	var ln net.Listener = bounded
	if cfg.tlsSelfSigned {
		cert, err := tlsutil.SelfSignedCertificate(365*24*time.Hour, cfg.tlsHosts...)
		if err != nil {
			log.Fatal().Err(err).Msg("self-signed certificate error")
		}
		ln = tls.NewListener(bounded, tlsutil.ServerConfig(cert))
	}

	srv := &http.Server{
		Handler:           newProxyRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	var admin *http.Server
	if cfg.adminAddr != "" {
		admin = &http.Server{
			Addr: cfg.adminAddr,
			Handler: newAdminRouter(adminDeps{
				gatherer:   reg,
				acceptor:   acceptor,
				limiter:    limiter,
				stats:      memStats,
				corsOrigin: cfg.adminCORS,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.adminAddr).Msg("admin server error")
			}
		}()
	}

	var (
		grpcSrv   *grpc.Server
		healthSrv *health.Server
	)
	if cfg.grpcHealthAddr != "" {
		grpcSrv, healthSrv, err = startGRPCHealth(cfg.grpcHealthAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.grpcHealthAddr).Msg("grpc health listen error")
		}
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info().Dur("timeout", cfg.drainTimeout).Msg("draining")

		bounded.Drain()
		if healthSrv != nil {
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.drainTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown did not complete")
		}
		if err := acceptor.WaitIdle(drainCtx); err != nil {
			log.Warn().Err(err).Int("active", acceptor.ActiveCount()).Msg("drain timed out with live connections")
		} else {
			log.Info().Msg("drained")
		}

		if admin != nil {
			_ = admin.Shutdown(drainCtx)
		}
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
	}()

	log.Info().
		Str("addr", cfg.listenAddr).
		Str("upstream", target.String()).
		Bool("tls", cfg.tlsSelfSigned).
		Msg("gateway listening")
	log.Info().
		Bool("enabled", cfg.rateEnabled).
		Float64("rps", cfg.rateRPS).
		Float64("burst", cfg.rateBurst).
		Int("shards", cfg.rateShards).
		Dur("bucket_ttl", cfg.rateBucketTTL).
		Str("key_header", cfg.rateKeyHeader).
		Bool("trust_proxy", cfg.trustProxy).
		Msg("rate limit")
	log.Info().
		Int("concurrency_max", cfg.concurrencyMax).
		Int("max_connections", cfg.maxConnections).
		Int("max_connections_per_ip", cfg.maxConnectionsPerIP).
		Float64("accept_rate", cfg.acceptRate).
		Msg("admission")
	log.Info().
		Bool("enabled", cfg.rateStatsEnabled).
		Str("redis_addr", cfg.rateStatsRedisAddr).
		Str("bucket", cfg.rateStatsBucket).
		Dur("ttl", cfg.rateStatsTTL).
		Bool("track_keys", cfg.rateStatsTrackKeys).
		Msg("rate stats")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	<-shutdownDone
}

func startGRPCHealth(addr string) (*grpc.Server, *health.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc health server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("grpc health listening")
	return srv, hs, nil
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
