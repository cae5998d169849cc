package domain

import "errors"

// Erros de admissão. São sinais de backpressure, não falhas internas:
// a camada externa traduz em recusa de conexão ou 503.
var (
	ErrAtCapacity   = errors.New("acceptor at capacity")
	ErrNotListening = errors.New("acceptor is not listening")
)

// IsBackpressure indica se err é uma recusa de admissão esperada.
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrAtCapacity) || errors.Is(err, ErrNotListening)
}

// AcceptorState é a máquina de estados do acceptor. Só avança: Listening → Draining → Closed.
type AcceptorState int32

const (
	Listening AcceptorState = iota
	Draining
	Closed
)

func (s AcceptorState) String() string {
	switch s {
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Slot é uma vaga reservada. Release deve ser seguro para chamar mais de uma vez.
type Slot interface {
	Release()
}

// Admitter representa um recurso com capacidade finita (ex: conexões simultâneas).
//
// A semântica é reject-fast: TryAdmit nunca espera por vaga.
type Admitter interface {
	TryAdmit() (Slot, error)
}
