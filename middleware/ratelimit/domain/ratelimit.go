package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Key identifica o cliente limitado (IP, API key, usuário...).
// É imutável depois de criada; o store usa o valor como chave de mapa.
type Key string

// Limiter decide se uma ação de custo `cost` é permitida agora para `key`.
//
// A decisão é síncrona e não bloqueia: negar é um resultado normal, não erro.
type Limiter interface {
	CheckN(key Key, cost uint32) Decision
}

// Decision é o resultado de uma checagem de rate limit.
type Decision struct {
	Allowed bool
	// RetryAfter é o tempo mínimo de espera até a mesma requisição ser aceita.
	// Zero quando permitido.
	RetryAfter time.Duration
	// Remaining é quantas requisições de custo 1 ainda caberiam agora.
	Remaining int64
	// ResetAfter é o tempo até o bucket voltar a ficar completamente cheio.
	ResetAfter time.Duration
}
