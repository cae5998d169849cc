package infra

import (
	"errors"
	"net"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// BoundedListener envolve um net.Listener e passa cada conexão pelo
// BoundedAcceptor antes de entregá-la (ou seja, antes de qualquer handshake TLS
// feito por um tls.NewListener por cima).
//
// Conexões recusadas são fechadas na hora e nunca viram erro em Accept.
type BoundedListener struct {
	inner    net.Listener
	acceptor *BoundedAcceptor
	perIP    *ipTable
	limiter  *rate.Limiter
	metrics  domain.MetricsRecorder
}

var _ net.Listener = (*BoundedListener)(nil)

type ListenerOption func(*BoundedListener)

// WithPerIPLimit limita conexões simultâneas por IP de origem (0 desliga).
func WithPerIPLimit(n int) ListenerOption {
	return func(l *BoundedListener) {
		if n > 0 {
			l.perIP = newIPTable(n)
		}
	}
}

// WithAcceptRate limita a taxa de novas conexões aceitas. Sem espera:
// acima da taxa a conexão é recusada.
func WithAcceptRate(perSecond float64, burst int) ListenerOption {
	return func(l *BoundedListener) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = int(perSecond) + 1
			}
			l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithListenerMetrics injeta o recorder de métricas.
func WithListenerMetrics(m domain.MetricsRecorder) ListenerOption {
	return func(l *BoundedListener) {
		if m != nil {
			l.metrics = m
		}
	}
}

func NewBoundedListener(inner net.Listener, acceptor *BoundedAcceptor, opts ...ListenerOption) *BoundedListener {
	l := &BoundedListener{inner: inner, acceptor: acceptor, metrics: NoopMetrics{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Accept bloqueia até existir uma conexão admitida.
func (l *BoundedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.inner.Accept()
		if err != nil {
			if l.acceptor.State() == domain.Closed {
				return nil, net.ErrClosed
			}
			return nil, err
		}

		c, err := l.admit(conn)
		if err == nil {
			return c, nil
		}
		_ = conn.Close()
		if l.acceptor.State() == domain.Closed {
			return nil, net.ErrClosed
		}
		log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection refused")
	}
}

var (
	errAcceptRate = errors.New("accept rate exceeded")
	errPerIP      = errors.New("per-ip connection limit reached")
)

func (l *BoundedListener) admit(conn net.Conn) (net.Conn, error) {
	if l.limiter != nil && !l.limiter.Allow() {
		l.metrics.ObserveAdmission(domain.AdmissionAcceptRate)
		return nil, errAcceptRate
	}

	slot, err := l.acceptor.TryAdmit()
	if err != nil {
		return nil, err
	}

	ip := ""
	if l.perIP != nil {
		ip = hostOf(conn.RemoteAddr())
		if !l.perIP.acquire(ip) {
			slot.Release()
			l.metrics.ObserveAdmission(domain.AdmissionPerIPLimit)
			return nil, errPerIP
		}
	}

	return &boundedConn{Conn: conn, slot: slot, perIP: l.perIP, ip: ip}, nil
}

// Drain para de admitir conexões novas; as existentes continuam.
func (l *BoundedListener) Drain() { l.acceptor.BeginDrain() }

// Close fecha o acceptor e o listener de baixo.
func (l *BoundedListener) Close() error {
	l.acceptor.Close()
	return l.inner.Close()
}

func (l *BoundedListener) Addr() net.Addr { return l.inner.Addr() }

func (l *BoundedListener) Acceptor() *BoundedAcceptor { return l.acceptor }

// boundedConn devolve a vaga (e a contagem por IP) no primeiro Close.
// Closes seguintes não fazem nada e retornam nil.
type boundedConn struct {
	net.Conn
	slot  domain.Slot
	perIP *ipTable
	ip    string
	once  sync.Once
}

func (c *boundedConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		if c.perIP != nil {
			c.perIP.release(c.ip)
		}
		c.slot.Release()
	})
	return err
}

// ipTable conta conexões ativas por IP. Entradas zeradas são removidas.
type ipTable struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func newIPTable(limit int) *ipTable {
	return &ipTable{limit: limit, counts: make(map[string]int)}
}

func (t *ipTable) acquire(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[ip] >= t.limit {
		return false
	}
	t.counts[ip]++
	return true
}

func (t *ipTable) release(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.counts[ip]; n <= 1 {
		delete(t.counts, ip)
	} else {
		t.counts[ip] = n - 1
	}
}

func (t *ipTable) count(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[ip]
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
