package infra

import (
	"context"
	"maps"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

// Counters agrega decisões. Cost soma o custo das requisições permitidas.
type Counters struct {
	Allowed int64
	Denied  int64
	Cost    int64
}

func (c *Counters) add(ev domain.StatsEvent) {
	if ev.Allowed {
		c.Allowed++
		c.Cost += int64(ev.Cost)
		return
	}
	c.Denied++
}

// StatsSnapshot é uma cópia consistente dos contadores.
type StatsSnapshot struct {
	Total   Counters            `json:"total"`
	ByRoute map[string]Counters `json:"by_route"`
	ByKey   map[string]Counters `json:"by_key,omitempty"`
}

// MemoryStatsStore guarda estatísticas em memória.
// Útil para testes, desenvolvimento e para o endpoint /stats do gateway.
//
// Não faz expiração: com trackKeys ligado a cardinalidade cresce com os clientes.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := routeName(ev.Method, ev.Path)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	if route != "" {
		c := s.byRoute[route]
		c.add(ev)
		s.byRoute[route] = c
	}
	if s.trackKeys && ev.Key != "" {
		c := s.byKey[string(ev.Key)]
		c.add(ev)
		s.byKey[string(ev.Key)] = c
	}
	return nil
}

func (s *MemoryStatsStore) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Total:   s.total,
		ByRoute: maps.Clone(s.byRoute),
	}
	if s.trackKeys {
		snap.ByKey = maps.Clone(s.byKey)
	}
	return snap
}
