// Servidor de teste usado como upstream do gateway nas validações manuais.
// /showTela responde na hora; /lento segura a requisição (útil para ver
// CONCURRENCY_MAX, MAX_CONNECTIONS e o drain no shutdown).
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	mux := http.NewServeMux()
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>"))
		log.Info().Str("remote", r.RemoteAddr).Str("request_id", r.Header.Get("X-Request-Id")).Msg("showTela")
	})
	mux.HandleFunc("/lento", func(w http.ResponseWriter, r *http.Request) {
		d, err := time.ParseDuration(r.URL.Query().Get("d"))
		if err != nil || d <= 0 {
			d = 5 * time.Second
		}
		select {
		case <-time.After(d):
			_, _ = w.Write([]byte("demorou " + d.String() + "\n"))
		case <-r.Context().Done():
		}
		log.Info().Dur("held", d).Str("request_id", r.Header.Get("X-Request-Id")).Msg("lento")
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Info().Str("addr", addr).Msg("servidor de teste rodando")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("erro ao subir o servidor")
	}
}
