package infra

import (
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// shard é uma partição do espaço de chaves com lock próprio.
//
// Leituras (fast path de chaves já conhecidas) usam RLock e mutam o bucket via CAS.
// Inserção e remoção usam Lock, então o evictor nunca remove um bucket com
// decisão em andamento.
type shard struct {
	mu      sync.RWMutex
	buckets map[domain.Key]*Bucket
}

// ShardedStore distribui as chaves entre shards por xxhash(key) mod N.
// Não existe lock global.
type ShardedStore struct {
	shards []*shard
}

// SweepResult resume uma varredura do evictor.
type SweepResult struct {
	Scanned int
	Evicted int
	Skipped int // shards ocupados que ficaram para o próximo ciclo
}

// NewShardedStore cria o store com n shards (n > 0).
func NewShardedStore(n int) *ShardedStore {
	if n <= 0 {
		n = 1
	}
	s := &ShardedStore{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make(map[domain.Key]*Bucket)}
	}
	return s
}

// ShardCount retorna o número de shards, fixo desde a construção.
func (s *ShardedStore) ShardCount() int { return len(s.shards) }

// ShardIndex retorna o shard dono da chave.
func (s *ShardedStore) ShardIndex(key domain.Key) int {
	return int(xxhash.Sum64String(string(key)) % uint64(len(s.shards)))
}

func (s *ShardedStore) shardFor(key domain.Key) *shard {
	return s.shards[s.ShardIndex(key)]
}

// GetOrInsert retorna o bucket da chave, criando se necessário.
//
// O release retornado libera o lock do shard e deve ser chamado exatamente uma vez.
// Enquanto não for chamado, o bucket não pode ser removido.
func (s *ShardedStore) GetOrInsert(key domain.Key, now int64) (*Bucket, func()) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	if b, ok := sh.buckets[key]; ok {
		return b, sh.mu.RUnlock
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	b, ok := sh.buckets[key]
	if !ok {
		b = newBucket(now)
		sh.buckets[key] = b
	}
	return b, sh.mu.Unlock
}

// Lookup é como GetOrInsert mas não cria o bucket.
func (s *ShardedStore) Lookup(key domain.Key) (*Bucket, func(), bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	b, ok := sh.buckets[key]
	if !ok {
		sh.mu.RUnlock()
		return nil, nil, false
	}
	return b, sh.mu.RUnlock, true
}

// Peek retorna o TAT atual da chave, sem criar nem tocar o bucket.
func (s *ShardedStore) Peek(key domain.Key) (time.Duration, bool) {
	b, release, ok := s.Lookup(key)
	if !ok {
		return 0, false
	}
	defer release()
	return b.TAT(), true
}

// RemoveIfIdle remove a chave se ela não foi acessada há mais de ttl.
func (s *ShardedStore) RemoveIfIdle(key domain.Key, now int64, ttl time.Duration) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok || !b.idle(now, ttl) {
		return false
	}
	delete(sh.buckets, key)
	return true
}

// Remove apaga a chave incondicionalmente.
func (s *ShardedStore) Remove(key domain.Key) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.buckets[key]; !ok {
		return false
	}
	delete(sh.buckets, key)
	return true
}

// Len conta as chaves de todos os shards. Não é um snapshot atômico.
func (s *ShardedStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return n
}

// Sweep remove buckets ociosos. Usa TryLock por shard: se o shard estiver
// ocupado com tráfego, ele é pulado neste ciclo.
func (s *ShardedStore) Sweep(now int64, ttl time.Duration) SweepResult {
	var res SweepResult
	for _, sh := range s.shards {
		if !sh.mu.TryLock() {
			res.Skipped++
			continue
		}
		for k, b := range sh.buckets {
			res.Scanned++
			if b.idle(now, ttl) {
				delete(sh.buckets, k)
				res.Evicted++
			}
		}
		sh.mu.Unlock()
	}
	return res
}
