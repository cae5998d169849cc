package infra

import "admission-gateway/middleware/ratelimit/domain"

// NoopMetrics não faz nada. Evita checar `if metrics != nil` no caminho quente.
type NoopMetrics struct{}

var _ domain.MetricsRecorder = NoopMetrics{}

func (NoopMetrics) ObserveDecision(bool)                  {}
func (NoopMetrics) ObserveSweep(int, int)                 {}
func (NoopMetrics) ObserveAdmission(string)               {}
func (NoopMetrics) TrackActiveConnections(func() int64)   {}
func (NoopMetrics) SetAcceptorState(domain.AcceptorState) {}
