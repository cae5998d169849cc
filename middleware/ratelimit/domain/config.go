package domain

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidConfig é o erro base para parâmetros inválidos do limiter.
var ErrInvalidConfig = errors.New("invalid limiter config")

// ConfigError descreve qual campo da configuração foi rejeitado.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid limiter config: " + e.Field + " " + e.Reason
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// LimiterConfig é imutável e vale para o processo inteiro.
type LimiterConfig struct {
	// Rate é o número de eventos permitidos por segundo.
	Rate float64
	// Burst é quantas requisições de custo 1 podem chegar de uma vez.
	Burst float64
	// ShardCount é o número de partições do store.
	ShardCount int
	// BucketTTL é o tempo ocioso depois do qual um bucket pode ser removido.
	BucketTTL time.Duration
	// SweepInterval controla o evictor: 0 usa BucketTTL/2, negativo desliga.
	SweepInterval time.Duration
}

// DefaultLimiterConfig segue os defaults do gateway (10 rps, burst 20).
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Rate:       10,
		Burst:      20,
		ShardCount: 64,
		BucketTTL:  15 * time.Minute,
	}
}

// EmissionInterval é o intervalo T = 1/rate.
func (c LimiterConfig) EmissionInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// EffectiveSweepInterval resolve o default do evictor.
func (c LimiterConfig) EffectiveSweepInterval() time.Duration {
	if c.SweepInterval == 0 {
		return c.BucketTTL / 2
	}
	return c.SweepInterval
}

// Validate rejeita configurações que não permitem construir o limiter.
// Só é chamado na construção; nunca no caminho da requisição.
func (c LimiterConfig) Validate() error {
	switch {
	case math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) || c.Rate <= 0:
		return &ConfigError{Field: "rate", Reason: "must be a finite value > 0"}
	case math.IsNaN(c.Burst) || math.IsInf(c.Burst, 0) || c.Burst < 1:
		return &ConfigError{Field: "burst", Reason: "must be a finite value >= 1"}
	case c.ShardCount <= 0:
		return &ConfigError{Field: "shard_count", Reason: "must be > 0"}
	case c.BucketTTL <= 0:
		return &ConfigError{Field: "bucket_ttl", Reason: "must be > 0"}
	case float64(time.Second)/c.Rate >= math.MaxInt64:
		return &ConfigError{Field: "rate", Reason: "is too low, emission interval overflows"}
	case c.EmissionInterval() <= 0:
		return &ConfigError{Field: "rate", Reason: "is too high for nanosecond resolution"}
	}
	return nil
}
