package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type config struct {
	listenAddr  string
	upstreamURL string

	rateEnabled       bool
	rateRPS           float64
	rateBurst         float64
	rateShards        int
	rateBucketTTL     time.Duration
	rateSweepInterval time.Duration
	rateKeyHeader     string
	trustProxy        bool
	ipv6Mask          bool
	addHeaders        bool

	concurrencyMax      int
	maxConnections      int
	maxConnectionsPerIP int
	acceptRate          float64
	acceptBurst         int
	drainTimeout        time.Duration

	tlsSelfSigned  bool
	tlsHosts       []string
	adminAddr      string
	adminCORS      []string
	grpcHealthAddr string

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool

	logLevel  string
	logFormat string
}

// readConfig lê o ambiente e depois as flags; a flag, se passada, vence.
func readConfig(args []string) (config, error) {
	cfg := config{}
	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)

	fs.StringVar(&cfg.listenAddr, "listen-addr", getenvDefault("LISTEN_ADDR", ":8080"), "address of the proxy listener")
	fs.StringVar(&cfg.upstreamURL, "upstream-url", os.Getenv("UPSTREAM_URL"), "upstream base URL (required)")

	fs.BoolVar(&cfg.rateEnabled, "rate-enabled", getenvBoolDefault("RATE_ENABLED", true), "enable per-client rate limiting")
	fs.Float64Var(&cfg.rateRPS, "rate-rps", getenvFloatDefault("RATE_RPS", 10), "sustained requests per second per key")
	fs.Float64Var(&cfg.rateBurst, "rate-burst", getenvFloatDefault("RATE_BURST", 20), "burst size per key")
	fs.IntVar(&cfg.rateShards, "rate-shards", getenvIntDefault("RATE_SHARDS", 64), "number of store shards")
	fs.DurationVar(&cfg.rateBucketTTL, "rate-bucket-ttl", getenvDurationDefault("RATE_BUCKET_TTL", 15*time.Minute), "idle time before a key is forgotten")
	fs.DurationVar(&cfg.rateSweepInterval, "rate-sweep-interval", getenvDurationDefault("RATE_SWEEP_INTERVAL", 0), "evictor period (0 = ttl/2, negative disables)")
	fs.StringVar(&cfg.rateKeyHeader, "rate-key-header", os.Getenv("RATE_KEY_HEADER"), "header used as client key when present")
	fs.BoolVar(&cfg.trustProxy, "trust-proxy-headers", getenvBoolDefault("TRUST_PROXY_HEADERS", getenvBoolDefault("TRUST_XFF", false)), "read client IP from proxy/CDN headers")
	fs.BoolVar(&cfg.ipv6Mask, "ipv6-mask", getenvBoolDefault("IPV6_MASK", false), "group IPv6 clients by /64")
	fs.BoolVar(&cfg.addHeaders, "add-ratelimit-headers", getenvBoolDefault("ADD_RATELIMIT_HEADERS", false), "add informative rate limit headers")

	fs.IntVar(&cfg.concurrencyMax, "concurrency-max", getenvIntDefault("CONCURRENCY_MAX", 100), "max in-flight requests (0 disables)")
	fs.IntVar(&cfg.maxConnections, "max-connections", getenvIntDefault("MAX_CONNECTIONS", 1024), "max open client connections")
	fs.IntVar(&cfg.maxConnectionsPerIP, "max-connections-per-ip", getenvIntDefault("MAX_CONNECTIONS_PER_IP", 0), "max open connections per source IP (0 disables)")
	fs.Float64Var(&cfg.acceptRate, "accept-rate", getenvFloatDefault("ACCEPT_RATE", 0), "max new connections per second (0 disables)")
	fs.IntVar(&cfg.acceptBurst, "accept-burst", getenvIntDefault("ACCEPT_BURST", 0), "burst for accept-rate")
	fs.DurationVar(&cfg.drainTimeout, "drain-timeout", getenvDurationDefault("DRAIN_TIMEOUT", 10*time.Second), "max wait for live connections on shutdown")

	fs.BoolVar(&cfg.tlsSelfSigned, "tls-self-signed", getenvBoolDefault("TLS_SELF_SIGNED", false), "serve TLS with a generated self-signed certificate")
	fs.StringSliceVar(&cfg.tlsHosts, "tls-hosts", getenvListDefault("TLS_HOSTS", nil), "hosts for the self-signed certificate")
	fs.StringVar(&cfg.adminAddr, "metrics-addr", getenvDefault("METRICS_ADDR", ":9090"), "admin listener (/metrics, /healthz, /readyz, /stats); empty disables")
	fs.StringSliceVar(&cfg.adminCORS, "admin-cors-origins", getenvListDefault("ADMIN_CORS_ORIGINS", nil), "origins allowed to read admin endpoints")
	fs.StringVar(&cfg.grpcHealthAddr, "grpc-health-addr", os.Getenv("GRPC_HEALTH_ADDR"), "gRPC health server address; empty disables")

	fs.BoolVar(&cfg.rateStatsEnabled, "rate-stats-enabled", getenvBoolDefault("RATE_STATS_ENABLED", false), "record decisions in Redis")
	fs.StringVar(&cfg.rateStatsRedisAddr, "rate-stats-redis-addr", os.Getenv("RATE_STATS_REDIS_ADDR"), "redis address for stats")
	fs.IntVar(&cfg.rateStatsRedisDB, "rate-stats-redis-db", getenvIntDefault("RATE_STATS_REDIS_DB", 0), "redis db for stats")
	fs.StringVar(&cfg.rateStatsPrefix, "rate-stats-prefix", getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats"), "redis key prefix")
	fs.DurationVar(&cfg.rateStatsTTL, "rate-stats-ttl", getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour), "ttl of time series keys")
	fs.StringVar(&cfg.rateStatsBucket, "rate-stats-bucket", getenvDefault("RATE_STATS_BUCKET", "minute"), "time series bucket: minute or none")
	fs.BoolVar(&cfg.rateStatsTrackKeys, "rate-stats-track-keys", getenvBoolDefault("RATE_STATS_TRACK_KEYS", false), "keep per-key counters")
	// senha só via ambiente
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")

	fs.StringVar(&cfg.logLevel, "log-level", getenvDefault("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, "log-format", getenvDefault("LOG_FORMAT", "json"), "json or console")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	// IMPORTANTE: o "burst" permite uma rajada inicial de requisições.
	// Com RPS muito baixo (ex: 0.02), o padrão 20 pode dar a impressão de que
	// o limiter não está funcionando, porque as primeiras ~20 passam.
	burstSet := fs.Changed("rate-burst") || getenvIsSet("RATE_BURST")
	rpsSet := fs.Changed("rate-rps") || getenvIsSet("RATE_RPS")
	if !burstSet && rpsSet && cfg.rateRPS > 0 && cfg.rateRPS < 1 {
		cfg.rateBurst = 1
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.maxConnections <= 0 {
		return config{}, errors.New("MAX_CONNECTIONS must be > 0")
	}
	if cfg.drainTimeout <= 0 {
		return config{}, errors.New("DRAIN_TIMEOUT must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvListDefault(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
