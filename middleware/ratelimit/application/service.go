package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog/log"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Stats é opcional e best-effort: erro ao gravar é logado e ignorado.
type Service struct {
	Limiter domain.Limiter
	Stats   domain.StatsStore

	// Now é usado só para carimbar eventos de stats. Padrão: time.Now.
	Now func() time.Time
}

// Request descreve a requisição sendo avaliada.
type Request struct {
	Key    domain.Key
	Cost   uint32
	Method string
	Path   string
}

func (s Service) Decide(ctx context.Context, req Request) domain.Decision {
	if s.Limiter == nil {
		return domain.Decision{Allowed: true}
	}

	dec := s.Limiter.CheckN(req.Key, req.Cost)
	s.record(ctx, req, dec)
	return dec
}

func (s Service) record(ctx context.Context, req Request, dec domain.Decision) {
	if s.Stats == nil {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	err := s.Stats.Record(ctx, domain.StatsEvent{
		Key:        req.Key,
		Allowed:    dec.Allowed,
		Cost:       req.Cost,
		Method:     req.Method,
		Path:       req.Path,
		RetryAfter: dec.RetryAfter,
		At:         now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("key", string(req.Key)).Msg("rate limit stats record failed")
	}
}
