package infra

import (
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// quota guarda os parâmetros derivados do GCRA em nanossegundos.
type quota struct {
	emission  int64 // T = 1/rate
	tolerance int64 // τ = burst * T
}

func newQuota(cfg domain.LimiterConfig) quota {
	t := int64(cfg.EmissionInterval())
	tau := cfg.Burst * float64(t)
	if tau >= math.MaxInt64 {
		return quota{emission: t, tolerance: math.MaxInt64}
	}
	return quota{emission: t, tolerance: int64(tau)}
}

// decide é o núcleo do GCRA (virtual scheduling).
//
// Retorna o novo TAT e a decisão. Quando a requisição é negada (ou cost == 0,
// que é só uma consulta) o TAT retornado é o mesmo recebido.
func decide(tat, now int64, q quota, cost uint32) (int64, domain.Decision) {
	base := max(tat, now)

	n := int64(cost)
	if cost == 0 {
		n = 1
	}
	newTAT := satAdd(base, satMul(n, q.emission))

	// allowAt é o instante a partir do qual newTAT cabe na tolerância.
	allowAt := newTAT - q.tolerance
	if allowAt > now {
		return tat, domain.Decision{
			RetryAfter: time.Duration(allowAt - now),
			Remaining:  remaining(q, base-now),
			ResetAfter: time.Duration(base - now),
		}
	}

	if cost == 0 {
		return tat, domain.Decision{
			Allowed:    true,
			Remaining:  remaining(q, base-now),
			ResetAfter: time.Duration(base - now),
		}
	}

	return newTAT, domain.Decision{
		Allowed:    true,
		Remaining:  remaining(q, newTAT-now),
		ResetAfter: time.Duration(newTAT - now),
	}
}

// remaining converte a folga (τ - backlog) em requisições de custo 1.
func remaining(q quota, backlog int64) int64 {
	slack := q.tolerance - backlog
	if slack <= 0 {
		return 0
	}
	return slack / q.emission
}

func satAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
