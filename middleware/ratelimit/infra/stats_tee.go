package infra

import (
	"context"
	"errors"

	"admission-gateway/middleware/ratelimit/domain"
)

// TeeStatsStore grava o mesmo evento em vários stores (ex: memória para /stats
// e Redis para histórico). Um store com erro não impede os outros.
type TeeStatsStore []domain.StatsStore

func NewTeeStatsStore(stores ...domain.StatsStore) TeeStatsStore {
	out := make(TeeStatsStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t TeeStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range t {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
