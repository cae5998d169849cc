// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RateLimiter: GCRA por chave sobre um ShardedStore (xxhash + RWMutex por shard)
//   - Evictor: varredura periódica que remove buckets ociosos sem travar o caminho quente
//   - BoundedAcceptor / BoundedListener: limite de conexões simultâneas com drain
//   - MemoryStatsStore / RedisStatsStore: estatísticas best-effort das decisões
//   - PrometheusMetrics: métricas do núcleo de admissão
package infra
