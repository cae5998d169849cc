package domain

// MetricsRecorder recebe os eventos do núcleo de admissão.
//
// Implementações precisam ser baratas e seguras para uso concorrente:
// são chamadas no caminho quente.
type MetricsRecorder interface {
	ObserveDecision(allowed bool)
	ObserveSweep(evicted, skippedShards int)
	ObserveAdmission(outcome string)
	// TrackActiveConnections registra a fonte do número de conexões ativas.
	// O valor é lido na hora da coleta, nunca empurrado.
	TrackActiveConnections(active func() int64)
	SetAcceptorState(s AcceptorState)
}

// Resultados de admissão usados como label.
const (
	AdmissionAdmitted     = "admitted"
	AdmissionAtCapacity   = "at_capacity"
	AdmissionNotListening = "not_listening"
	AdmissionPerIPLimit   = "per_ip_limit"
	AdmissionAcceptRate   = "accept_rate"
)
