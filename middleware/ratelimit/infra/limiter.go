package infra

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"k8s.io/utils/clock"
)

// RateLimiter é a fachada do rate limit: GCRA por chave sobre o ShardedStore.
//
// Deve ser criado uma vez e passado explicitamente para quem precisa; testes
// criam instâncias independentes com relógio falso (WithClock).
type RateLimiter struct {
	cfg     domain.LimiterConfig
	quota   quota
	clock   clock.WithTicker
	start   time.Time
	store   *ShardedStore
	evictor *Evictor
	metrics domain.MetricsRecorder
}

var _ domain.Limiter = (*RateLimiter)(nil)

type limiterOptions struct {
	clock   clock.WithTicker
	metrics domain.MetricsRecorder
}

type LimiterOption func(*limiterOptions)

// WithClock injeta o relógio (ex: k8s.io/utils/clock/testing.FakeClock).
func WithClock(c clock.WithTicker) LimiterOption {
	return func(o *limiterOptions) { o.clock = c }
}

// WithMetrics injeta o recorder de métricas.
func WithMetrics(m domain.MetricsRecorder) LimiterOption {
	return func(o *limiterOptions) { o.metrics = m }
}

// NewRateLimiter valida a configuração e monta o store. Configuração inválida
// é o único erro possível; depois de criado, Check nunca falha.
func NewRateLimiter(cfg domain.LimiterConfig, opts ...LimiterOption) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := limiterOptions{clock: clock.RealClock{}, metrics: NoopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	l := &RateLimiter{
		cfg:     cfg,
		quota:   newQuota(cfg),
		clock:   o.clock,
		start:   o.clock.Now(),
		store:   NewShardedStore(cfg.ShardCount),
		metrics: o.metrics,
	}
	l.evictor = NewEvictor(l.store, l.clock, l.now, cfg.BucketTTL, cfg.EffectiveSweepInterval(), l.metrics)
	return l, nil
}

// now é o relógio monotônico relativo ao início do limiter, nunca negativo.
func (l *RateLimiter) now() int64 {
	d := l.clock.Since(l.start)
	if d < 0 {
		return 0
	}
	return int64(d)
}

func (l *RateLimiter) Config() domain.LimiterConfig { return l.cfg }
func (l *RateLimiter) RPS() float64                 { return l.cfg.Rate }
func (l *RateLimiter) Burst() float64               { return l.cfg.Burst }

// Check é CheckN com custo 1.
func (l *RateLimiter) Check(key domain.Key) domain.Decision {
	return l.CheckN(key, 1)
}

// CheckN implementa domain.Limiter. Se negado, o bucket não muda.
// Custo 0 apenas consulta o estado.
func (l *RateLimiter) CheckN(key domain.Key, cost uint32) domain.Decision {
	now := l.now()

	b, release := l.store.GetOrInsert(key, now)
	defer release()

	dec := b.apply(now, l.quota, cost)
	l.metrics.ObserveDecision(dec.Allowed)
	return dec
}

// TAT retorna o theoretical arrival time da chave, se existir.
func (l *RateLimiter) TAT(key domain.Key) (time.Duration, bool) {
	return l.store.Peek(key)
}

// Penalize empurra o agendamento da chave em d. Retorna false se a chave não existe.
func (l *RateLimiter) Penalize(key domain.Key, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	b, release, ok := l.store.Lookup(key)
	if !ok {
		return false
	}
	defer release()
	b.penalize(l.now(), d)
	return true
}

// Reset esquece a chave; a próxima requisição se comporta como a primeira.
func (l *RateLimiter) Reset(key domain.Key) bool {
	return l.store.Remove(key)
}

// Len retorna quantas chaves estão no store.
func (l *RateLimiter) Len() int { return l.store.Len() }

// Sweep força uma varredura de buckets ociosos.
func (l *RateLimiter) Sweep() SweepResult { return l.evictor.SweepOnce() }

// StartEvictor inicia a varredura periódica, amarrada ao ctx e ao Close.
func (l *RateLimiter) StartEvictor(ctx context.Context) { l.evictor.Start(ctx) }

// Close para o evictor e espera a goroutine sair.
func (l *RateLimiter) Close() { l.evictor.Stop() }
