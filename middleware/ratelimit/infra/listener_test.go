package infra

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acceptResult struct {
	conn net.Conn
	err  error
}

func serveBounded(t *testing.T, l net.Listener) <-chan acceptResult {
	t.Helper()
	out := make(chan acceptResult, 16)
	go func() {
		for {
			c, err := l.Accept()
			out <- acceptResult{conn: c, err: err}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func newTestListener(t *testing.T, max int, opts ...ListenerOption) *BoundedListener {
	t.Helper()
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a, err := NewBoundedAcceptor(max)
	require.NoError(t, err)
	l := NewBoundedListener(inner, a, opts...)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func dial(t *testing.T, l net.Listener) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextAccepted(t *testing.T, ch <-chan acceptResult) net.Conn {
	t.Helper()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// assertClosedByPeer espera que o servidor tenha fechado a conexão do cliente.
func assertClosedByPeer(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "connection should have been closed, not left hanging")
	}
}

func TestBoundedListener_RejectsOverCapacityAndRecovers(t *testing.T) {
	l := newTestListener(t, 1)
	accepted := serveBounded(t, l)

	dial(t, l)
	first := nextAccepted(t, accepted)
	assert.Equal(t, 1, l.Acceptor().ActiveCount())

	rejected := dial(t, l)
	assertClosedByPeer(t, rejected)
	assert.Empty(t, accepted)

	require.NoError(t, first.Close())
	assert.NoError(t, first.Close(), "second close is a no-op")
	assert.Equal(t, 0, l.Acceptor().ActiveCount())

	dial(t, l)
	nextAccepted(t, accepted)
}

func TestBoundedListener_PerIPLimit(t *testing.T) {
	l := newTestListener(t, 10, WithPerIPLimit(1))
	accepted := serveBounded(t, l)

	dial(t, l)
	first := nextAccepted(t, accepted)

	assertClosedByPeer(t, dial(t, l))
	assert.Equal(t, 1, l.Acceptor().ActiveCount())
	assert.Equal(t, 1, l.perIP.count("127.0.0.1"))

	require.NoError(t, first.Close())
	assert.Equal(t, 0, l.perIP.count("127.0.0.1"))

	dial(t, l)
	nextAccepted(t, accepted)
}

func TestBoundedListener_AcceptRate(t *testing.T) {
	l := newTestListener(t, 10, WithAcceptRate(0.001, 1))
	accepted := serveBounded(t, l)

	dial(t, l)
	nextAccepted(t, accepted)

	assertClosedByPeer(t, dial(t, l))
}

func TestBoundedListener_DrainRefusesNewConnections(t *testing.T) {
	l := newTestListener(t, 10)
	accepted := serveBounded(t, l)

	dial(t, l)
	live := nextAccepted(t, accepted)

	l.Drain()
	assertClosedByPeer(t, dial(t, l))

	require.NoError(t, live.Close())
	select {
	case <-l.Acceptor().Idle():
	case <-time.After(time.Second):
		t.Fatal("acceptor did not become idle")
	}
}

func TestBoundedListener_AcceptAfterCloseReturnsErrClosed(t *testing.T) {
	l := newTestListener(t, 1)
	accepted := serveBounded(t, l)

	require.NoError(t, l.Close())

	select {
	case r := <-accepted:
		assert.ErrorIs(t, r.err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}
