// Package ratelimit fornece adapters HTTP (net/http) e gRPC para rate limit e
// limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, admissão) sem net/http
//   - infra: GCRA, store shardeado, evictor, acceptor limitado, listener, stats e métricas
//   - ratelimit (este pacote): middlewares HTTP, interceptors gRPC, extração de chave
//     e tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header/IP real/RemoteAddr)
//  2. Chama a camada application para obter a decisão
//  3. Se bloqueado, responde 429 (rate limit) ou 503 (concorrência)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_RPS, RATE_BURST, CONCURRENCY_MAX e MAX_CONNECTIONS.
package ratelimit
