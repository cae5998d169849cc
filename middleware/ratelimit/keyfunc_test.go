package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultKeyFunc_PrefersHeaderWhenSet(t *testing.T) {
	fn := DefaultKeyFunc("X-Client", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")

	if got := fn(r); got != "client-123" {
		t.Fatalf("expected header key, got %q", got)
	}
}

func TestDefaultKeyFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultKeyFunc_ProxyHeaderPriority(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Real-Ip", "5.6.7.8")
	r.Header.Set("Cf-Connecting-Ip", "9.9.9.9")

	if got := fn(r); got != "9.9.9.9" {
		t.Fatalf("expected cf-connecting-ip to win, got %q", got)
	}
}

func TestDefaultKeyFunc_SkipsUnparseableHeaders(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Real-Ip", "not-an-ip")
	r.Header.Set("Cloudfront-Viewer-Address", "1.2.3.4:443")

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected cloudfront address without port, got %q", got)
	}
}

func TestDefaultKeyFunc_IgnoresProxyHeadersWhenUntrusted(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestNewKeyFunc_IPv6Mask(t *testing.T) {
	fn := NewKeyFunc(KeyOptions{IPv6Mask: true})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[2001:db8:1:2:3:4:5:6]:443"

	if got := fn(r); got != "2001:db8:1:2::" {
		t.Fatalf("expected /64 prefix, got %q", got)
	}

	r.RemoteAddr = "10.0.0.9:5555"
	if got := fn(r); got != "10.0.0.9" {
		t.Fatalf("ipv4 must not be masked, got %q", got)
	}
}

func TestDefaultKeyFunc_FallbacksWhenRemoteAddrIsNotAnIP(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "@unix"
	if got := fn(r); got != "@unix" {
		t.Fatalf("expected raw RemoteAddr, got %q", got)
	}

	r.RemoteAddr = ""
	if got := fn(r); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
