package infra

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"admission-gateway/middleware/ratelimit/domain"
)

// BoundedAcceptor limita o número de conexões (ou requisições) simultâneas.
//
// A admissão é reject-fast: se não há vaga, TryAdmit retorna na hora com
// domain.ErrAtCapacity. O estado só avança: Listening → Draining → Closed.
type BoundedAcceptor struct {
	max     int64
	active  atomic.Int64
	state   atomic.Int32
	metrics domain.MetricsRecorder

	idle     chan struct{}
	idleOnce sync.Once
}

var _ domain.Admitter = (*BoundedAcceptor)(nil)

type AcceptorOption func(*BoundedAcceptor)

// WithAcceptorMetrics injeta o recorder de métricas.
func WithAcceptorMetrics(m domain.MetricsRecorder) AcceptorOption {
	return func(a *BoundedAcceptor) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewBoundedAcceptor cria o acceptor com capacidade max (> 0).
func NewBoundedAcceptor(max int, opts ...AcceptorOption) (*BoundedAcceptor, error) {
	if max <= 0 {
		return nil, &domain.ConfigError{Field: "max_connections", Reason: "must be > 0, got " + strconv.Itoa(max)}
	}
	a := &BoundedAcceptor{
		max:     int64(max),
		metrics: NoopMetrics{},
		idle:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.metrics.SetAcceptorState(domain.Listening)
	a.metrics.TrackActiveConnections(a.active.Load)
	return a, nil
}

func (a *BoundedAcceptor) Max() int                    { return int(a.max) }
func (a *BoundedAcceptor) ActiveCount() int            { return int(a.active.Load()) }
func (a *BoundedAcceptor) State() domain.AcceptorState { return domain.AcceptorState(a.state.Load()) }

// TryAdmit reserva uma vaga. O slot retornado deve ser liberado com Release
// (normalmente via defer) em todos os caminhos de saída.
//
// O estado é conferido a cada volta do CAS e de novo depois do incremento: se
// o drain começou no meio, a vaga é devolvida. Assim, depois que BeginDrain
// retorna, nenhuma admissão nova é aceita e Idle não fecha com conexão viva.
// Um TryAdmit que já passou do CAS quando o drain começa ainda pode subir
// ActiveCount por um instante antes de devolver a vaga.
func (a *BoundedAcceptor) TryAdmit() (domain.Slot, error) {
	for {
		if a.State() != domain.Listening {
			a.metrics.ObserveAdmission(domain.AdmissionNotListening)
			return nil, domain.ErrNotListening
		}
		cur := a.active.Load()
		if cur >= a.max {
			a.metrics.ObserveAdmission(domain.AdmissionAtCapacity)
			return nil, domain.ErrAtCapacity
		}
		if a.active.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	if a.State() != domain.Listening {
		a.release()
		a.metrics.ObserveAdmission(domain.AdmissionNotListening)
		return nil, domain.ErrNotListening
	}

	a.metrics.ObserveAdmission(domain.AdmissionAdmitted)
	return &ConnectionSlot{acceptor: a}, nil
}

// BeginDrain para de admitir. Conexões já admitidas continuam até fechar.
// Retorna false se o acceptor já não estava em Listening.
func (a *BoundedAcceptor) BeginDrain() bool {
	if !a.state.CompareAndSwap(int32(domain.Listening), int32(domain.Draining)) {
		return false
	}
	a.metrics.SetAcceptorState(domain.Draining)
	if a.active.Load() == 0 {
		a.signalIdle()
	}
	return true
}

// Close rejeita tudo daqui em diante. Idempotente.
func (a *BoundedAcceptor) Close() {
	for {
		cur := a.state.Load()
		if cur == int32(domain.Closed) {
			return
		}
		if a.state.CompareAndSwap(cur, int32(domain.Closed)) {
			break
		}
	}
	a.metrics.SetAcceptorState(domain.Closed)
	if a.active.Load() == 0 {
		a.signalIdle()
	}
}

// Idle é fechado quando o acceptor saiu de Listening e não há conexões ativas.
func (a *BoundedAcceptor) Idle() <-chan struct{} { return a.idle }

// WaitIdle espera o drain terminar ou o ctx encerrar.
func (a *BoundedAcceptor) WaitIdle(ctx context.Context) error {
	select {
	case <-a.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *BoundedAcceptor) release() {
	if n := a.active.Add(-1); n == 0 && a.State() != domain.Listening {
		a.signalIdle()
	}
}

func (a *BoundedAcceptor) signalIdle() {
	a.idleOnce.Do(func() { close(a.idle) })
}

// ConnectionSlot é uma vaga reservada no BoundedAcceptor.
type ConnectionSlot struct {
	acceptor *BoundedAcceptor
	released atomic.Bool
}

// Release devolve a vaga. Chamadas extras são ignoradas.
func (s *ConnectionSlot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.acceptor.release()
	}
}
