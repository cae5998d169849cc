package infra

import (
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Bucket é o estado GCRA de uma chave.
//
// tat e touched são nanossegundos relativos ao início do limiter.
// tat só avança (allow ou penalize); touched é usado apenas pelo evictor.
type Bucket struct {
	tat     atomic.Int64
	touched atomic.Int64
}

func newBucket(now int64) *Bucket {
	b := &Bucket{}
	b.tat.Store(now)
	b.touched.Store(now)
	return b
}

// TAT retorna o theoretical arrival time atual.
func (b *Bucket) TAT() time.Duration { return time.Duration(b.tat.Load()) }

// LastTouched retorna o último acesso registrado.
func (b *Bucket) LastTouched() time.Duration { return time.Duration(b.touched.Load()) }

// apply executa o GCRA com CAS no TAT. Se outro acesso venceu a corrida, a
// decisão é refeita contra o TAT mais recente.
func (b *Bucket) apply(now int64, q quota, cost uint32) domain.Decision {
	b.touch(now)

	prev := b.tat.Load()
	for {
		next, dec := decide(prev, now, q, cost)
		if next == prev {
			return dec
		}
		if b.tat.CompareAndSwap(prev, next) {
			return dec
		}
		prev = b.tat.Load()
	}
}

// penalize empurra o TAT para frente em d.
func (b *Bucket) penalize(now int64, d time.Duration) {
	b.touch(now)
	for {
		prev := b.tat.Load()
		next := satAdd(max(prev, now), int64(d))
		if b.tat.CompareAndSwap(prev, next) {
			return
		}
	}
}

func (b *Bucket) touch(now int64) {
	for {
		prev := b.touched.Load()
		if prev >= now || b.touched.CompareAndSwap(prev, now) {
			return
		}
	}
}

func (b *Bucket) idle(now int64, ttl time.Duration) bool {
	return now-b.touched.Load() > int64(ttl)
}
