package ratelimit

import (
	"net/http"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog/log"
)

type ConcurrencyOptions struct {
	Max          int
	RejectStatus int
	// Admitter permite compartilhar um acceptor já criado (ex: para drain no shutdown).
	// Se nil, um BoundedAcceptor com capacidade Max é criado.
	Admitter domain.Admitter
	Metrics  domain.MetricsRecorder
}

// ConcurrencyMiddleware limita requisições simultâneas. Sem vaga, responde na hora
// (503 por padrão); não há fila.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Admitter == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		a, err := infra.NewBoundedAcceptor(opts.Max, infra.WithAcceptorMetrics(opts.Metrics))
		if err != nil {
			// Max > 0 já foi checado
			panic(err)
		}
		opts.Admitter = a
	}

	svc := application.AdmissionService{Admitter: opts.Admitter}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Admit()
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("request refused by concurrency limit")
				if application.Draining(err) {
					w.Header().Set("Connection", "close")
				}
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
