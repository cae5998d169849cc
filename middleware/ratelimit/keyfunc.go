package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type KeyFunc func(r *http.Request) string

// KeyOptions controla como a chave do cliente é extraída da requisição.
type KeyOptions struct {
	// Header, se setado e presente, vira a chave (ex: X-Api-Key).
	Header string
	// TrustProxyHeaders lê o IP real dos headers de proxy/CDN.
	// Só ligue atrás de um proxy que sobrescreve esses headers.
	TrustProxyHeaders bool
	// IPv6Mask zera os 64 bits finais de endereços IPv6, agrupando o /64 do cliente.
	IPv6Mask bool
}

// realIPHeaders em ordem de prioridade.
var realIPHeaders = []string{
	"Cf-Connecting-Ip",
	"X-Cluster-Client-Ip",
	"Fly-Client-Ip",
	"Fastly-Client-Ip",
	"Cloudfront-Viewer-Address",
	"X-Real-Ip",
	"X-Forwarded-For",
	"X-Original-Forwarded-For",
	"True-Client-Ip",
	"Client-Ip",
}

// DefaultKeyFunc mantém a assinatura antiga: header opcional + confiança em proxy.
func DefaultKeyFunc(keyHeader string, trustProxy bool) KeyFunc {
	return NewKeyFunc(KeyOptions{Header: keyHeader, TrustProxyHeaders: trustProxy})
}

func NewKeyFunc(opts KeyOptions) KeyFunc {
	return func(r *http.Request) string {
		if opts.Header != "" {
			if v := strings.TrimSpace(r.Header.Get(opts.Header)); v != "" {
				return v
			}
		}

		if ip, ok := ClientIP(r, opts.TrustProxyHeaders); ok {
			if opts.IPv6Mask {
				ip = maskIPv6(ip)
			}
			return ip.String()
		}

		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// ClientIP devolve o melhor palpite do IP do cliente.
// Com trustProxy, os headers de proxy têm prioridade sobre RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) (netip.Addr, bool) {
	if trustProxy {
		for _, h := range realIPHeaders {
			if ip, ok := parseHeaderIP(r.Header.Get(h)); ok {
				return ip, true
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// parseHeaderIP pega o primeiro item da lista, aceitando "ip" ou "ip:porta".
func parseHeaderIP(v string) (netip.Addr, bool) {
	if v == "" {
		return netip.Addr{}, false
	}
	first, _, _ := strings.Cut(v, ",")
	first = strings.TrimSpace(first)

	if ip, err := netip.ParseAddr(first); err == nil {
		return ip.Unmap(), true
	}
	if ap, err := netip.ParseAddrPort(first); err == nil {
		return ap.Addr().Unmap(), true
	}
	// cloudfront-viewer-address usa "ipv4:porta" e também "ipv6:porta" sem colchetes
	if i := strings.LastIndexByte(first, ':'); i > 0 {
		if ip, err := netip.ParseAddr(first[:i]); err == nil {
			return ip.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

func maskIPv6(ip netip.Addr) netip.Addr {
	if !ip.Is6() {
		return ip
	}
	p, err := ip.Prefix(64)
	if err != nil {
		return ip
	}
	return p.Addr()
}
