package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// Evictor varre o store periodicamente removendo buckets ociosos.
//
// Roda fora do caminho da requisição; uma varredura lenta só atrasa a remoção.
type Evictor struct {
	store    *ShardedStore
	clock    clock.WithTicker
	now      func() int64
	ttl      time.Duration
	interval time.Duration
	metrics  domain.MetricsRecorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEvictor cria o evictor. now deve retornar o mesmo relógio relativo usado nos buckets.
func NewEvictor(store *ShardedStore, clk clock.WithTicker, now func() int64, ttl, interval time.Duration, metrics domain.MetricsRecorder) *Evictor {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Evictor{
		store:    store,
		clock:    clk,
		now:      now,
		ttl:      ttl,
		interval: interval,
		metrics:  metrics,
	}
}

// SweepOnce executa uma varredura imediatamente.
func (e *Evictor) SweepOnce() SweepResult {
	res := e.store.Sweep(e.now(), e.ttl)
	e.metrics.ObserveSweep(res.Evicted, res.Skipped)
	if res.Evicted > 0 || res.Skipped > 0 {
		log.Debug().
			Int("scanned", res.Scanned).
			Int("evicted", res.Evicted).
			Int("skipped_shards", res.Skipped).
			Msg("rate limit sweep")
	}
	return res
}

// Start inicia a goroutine de varredura. Pare cancelando o contexto ou com Stop.
// Chamadas repetidas são ignoradas enquanto a anterior estiver rodando; depois
// que ela termina, por qualquer um dos dois caminhos, Start pode ser chamado de novo.
func (e *Evictor) Start(ctx context.Context) {
	if e.interval <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	t := e.clock.NewTicker(e.interval)
	go func() {
		defer close(done)
		defer e.exited(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				e.SweepOnce()
			}
		}
	}()
}

// exited limpa o registro da goroutine que terminou, se ele ainda for dela.
func (e *Evictor) exited(done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != done {
		return
	}
	e.cancel()
	e.cancel, e.done = nil, nil
}

// Stop cancela a varredura e espera a goroutine terminar.
func (e *Evictor) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
