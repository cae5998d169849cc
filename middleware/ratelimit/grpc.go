package ratelimit

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// GRPCOptions configura os interceptors de rate limit para servidores gRPC.
type GRPCOptions struct {
	Limiter domain.Limiter
	Stats   domain.StatsStore
	// MetadataKey, se setado e presente, vira a chave (ex: "x-api-key").
	MetadataKey string
	IPv6Mask    bool
	// Cost por método (FullMethod). Nil: custo 1.
	Cost func(fullMethod string) uint32
}

type grpcLimiter struct {
	opts GRPCOptions
	svc  application.Service
}

func newGRPCLimiter(opts GRPCOptions) grpcLimiter {
	return grpcLimiter{opts: opts, svc: application.Service{Limiter: opts.Limiter, Stats: opts.Stats}}
}

func (g grpcLimiter) check(ctx context.Context, fullMethod string) (domain.Decision, string) {
	cost := uint32(1)
	if g.opts.Cost != nil {
		cost = g.opts.Cost(fullMethod)
	}
	dec := g.svc.Decide(ctx, application.Request{
		Key:    domain.Key(g.key(ctx)),
		Cost:   cost,
		Method: "GRPC",
		Path:   fullMethod,
	})
	return dec, formatInt64(retryAfterSeconds(dec.RetryAfter, 1))
}

func (g grpcLimiter) key(ctx context.Context) string {
	if g.opts.MetadataKey != "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(g.opts.MetadataKey); len(v) > 0 && strings.TrimSpace(v[0]) != "" {
				return strings.TrimSpace(v[0])
			}
		}
	}

	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return addr
	}
	ip = ip.Unmap()
	if g.opts.IPv6Mask {
		ip = maskIPv6(ip)
	}
	return ip.String()
}

func rejectGRPC(dec domain.Decision) error {
	return status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %.3f seconds", dec.RetryAfter.Seconds())
}

// UnaryServerInterceptor nega chamadas acima da quota com codes.ResourceExhausted
// e o header "retry-after" (segundos).
func UnaryServerInterceptor(opts GRPCOptions) grpc.UnaryServerInterceptor {
	g := newGRPCLimiter(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if g.opts.Limiter == nil {
			return handler(ctx, req)
		}
		dec, retry := g.check(ctx, info.FullMethod)
		if !dec.Allowed {
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", retry))
			return nil, rejectGRPC(dec)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor aplica a quota na abertura do stream, não por mensagem.
func StreamServerInterceptor(opts GRPCOptions) grpc.StreamServerInterceptor {
	g := newGRPCLimiter(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if g.opts.Limiter == nil {
			return handler(srv, ss)
		}
		dec, retry := g.check(ss.Context(), info.FullMethod)
		if !dec.Allowed {
			_ = ss.SetHeader(metadata.Pairs("retry-after", retry))
			return rejectGRPC(dec)
		}
		return handler(srv, ss)
	}
}
