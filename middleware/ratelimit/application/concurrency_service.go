package application

import (
	"errors"

	"admission-gateway/middleware/ratelimit/domain"
)

// AdmissionService concentra a regra de admissão por concorrência,
// sem saber nada sobre HTTP.
//
// A admissão é reject-fast: não existe fila nem espera por vaga.
type AdmissionService struct {
	Admitter domain.Admitter
}

// Admit tenta reservar uma vaga.
// Retorna (release, nil) em caso de sucesso; release é idempotente.
// Em sobrecarga retorna domain.ErrAtCapacity ou domain.ErrNotListening.
func (s AdmissionService) Admit() (func(), error) {
	if s.Admitter == nil {
		return func() {}, nil
	}

	slot, err := s.Admitter.TryAdmit()
	if err != nil {
		return nil, err
	}
	return slot.Release, nil
}

// Draining indica se a recusa veio de um drain em andamento (e não de lotação).
func Draining(err error) bool {
	return errors.Is(err, domain.ErrNotListening)
}
