package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type fakeLimiter struct {
	dec   domain.Decision
	calls int
	cost  uint32
}

func (f *fakeLimiter) CheckN(_ domain.Key, cost uint32) domain.Decision {
	f.calls++
	f.cost = cost
	return f.dec
}

type recordingStats struct {
	events []domain.StatsEvent
	err    error
}

func (r *recordingStats) Record(_ context.Context, ev domain.StatsEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestService_Decide_AllowsWhenNoLimiter(t *testing.T) {
	svc := Service{}
	dec := svc.Decide(context.Background(), Request{Key: "k", Cost: 1})
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_PassesCostToLimiter(t *testing.T) {
	lim := &fakeLimiter{dec: domain.Decision{Allowed: true}}
	svc := Service{Limiter: lim}

	svc.Decide(context.Background(), Request{Key: "k", Cost: 7})
	if lim.calls != 1 || lim.cost != 7 {
		t.Fatalf("expected one call with cost 7, got calls=%d cost=%d", lim.calls, lim.cost)
	}
}

func TestService_Decide_ReturnsDenialUnchanged(t *testing.T) {
	lim := &fakeLimiter{dec: domain.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	svc := Service{Limiter: lim}

	dec := svc.Decide(context.Background(), Request{Key: "k", Cost: 1})
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_RecordsStats(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	stats := &recordingStats{}
	svc := Service{
		Limiter: &fakeLimiter{dec: domain.Decision{Allowed: false, RetryAfter: time.Second}},
		Stats:   stats,
		Now:     func() time.Time { return at },
	}

	svc.Decide(context.Background(), Request{Key: "1.2.3.4", Cost: 2, Method: "GET", Path: "/x"})

	if len(stats.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(stats.events))
	}
	ev := stats.events[0]
	if ev.Allowed || ev.Key != "1.2.3.4" || ev.Cost != 2 || ev.Method != "GET" || ev.Path != "/x" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.At.Equal(at) || ev.RetryAfter != time.Second {
		t.Fatalf("unexpected timing in event: %+v", ev)
	}
}

func TestService_Decide_StatsErrorDoesNotChangeDecision(t *testing.T) {
	svc := Service{
		Limiter: &fakeLimiter{dec: domain.Decision{Allowed: true}},
		Stats:   &recordingStats{err: errors.New("redis down")},
	}

	dec := svc.Decide(context.Background(), Request{Key: "k", Cost: 1})
	if !dec.Allowed {
		t.Fatalf("stats failure must not block the request")
	}
}
