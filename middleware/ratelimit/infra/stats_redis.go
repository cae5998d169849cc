package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de decisão em hashes do Redis.
//
// Layout (prefix padrão "ratelimit:stats"):
//
//	<prefix>:total              allowed / denied / cost
//	<prefix>:minute:<yyyymmddhhmm>  idem, com TTL
//	<prefix>:route              "<METHOD path>:allowed" / ":denied"
//	<prefix>:key:<key>          idem a total, com TTL (só com trackKeys)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	s.incr(ctx, pipe, s.prefix+":total", field, ev, 0)

	if s.bucket == "minute" {
		s.incr(ctx, pipe, s.prefix+":minute:"+at.UTC().Format("200601021504"), field, ev, s.ttl)
	}

	if route := routeName(ev.Method, ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			s.incr(ctx, pipe, s.prefix+":key:"+k, field, ev, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) incr(ctx context.Context, pipe redis.Pipeliner, key, field string, ev domain.StatsEvent, ttl time.Duration) {
	pipe.HIncrBy(ctx, key, field, 1)
	if ev.Allowed && ev.Cost > 0 {
		pipe.HIncrBy(ctx, key, "cost", int64(ev.Cost))
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
}

// Totals lê o hash <prefix>:total.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	c.Cost, _ = strconv.ParseInt(vals["cost"], 10, 64)
	return c, nil
}

func routeName(method, path string) string {
	return strings.TrimSpace(strings.TrimSpace(method) + " " + strings.TrimSpace(path))
}
