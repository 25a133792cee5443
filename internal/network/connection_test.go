package network

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MAKLs/pwn3/internal/events"
	"github.com/MAKLs/pwn3/internal/protocol"
)

func newTestParts() (*events.EventBus, *protocol.InjectionQueue, *protocol.Decoder) {
	bus := events.NewEventBus()
	queue := protocol.NewInjectionQueue()
	return bus, queue, protocol.NewDecoder(bus, queue, 3333)
}

// freePort grabs an ephemeral port and releases it so a Conn can bind it.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}

func dialEventually(t *testing.T, port uint16) net.Conn {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 25*time.Millisecond, "could not reach proxy listener on %s", addr)
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	total := 0
	for total < n {
		got, err := conn.Read(buf[total:])
		require.NoError(t, err)
		total += got
	}
	return buf
}

// startPair runs a linked listener/dialer pair relaying between a local
// proxy port and the given upstream port.
func startPair(t *testing.T, ctx context.Context, upstreamPort uint16) (listener, dialer *Conn, proxyPort uint16) {
	t.Helper()
	bus, queue, decoder := newTestParts()
	proxyPort = freePort(t)

	listener = NewConn(RoleListener, "127.0.0.1", proxyPort, 4096, decoder, queue, bus)
	dialer = NewConn(RoleDialer, "127.0.0.1", upstreamPort, 4096, decoder, queue, bus)
	Link(listener, dialer)

	go listener.Run(ctx)
	go dialer.Run(ctx)

	t.Cleanup(func() {
		listener.Stop()
		bus.Stop()
	})
	return listener, dialer, proxyPort
}

// finalBurstConn delivers its payload together with EOF on the first read,
// which the io.Reader contract allows.
type finalBurstConn struct {
	data []byte
	read bool
}

func (f *finalBurstConn) Read(p []byte) (int, error) {
	if f.read {
		return 0, io.EOF
	}
	f.read = true
	return copy(p, f.data), io.EOF
}

func (f *finalBurstConn) Write(p []byte) (int, error)      { return len(p), nil }
func (f *finalBurstConn) Close() error                     { return nil }
func (f *finalBurstConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (f *finalBurstConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (f *finalBurstConn) SetDeadline(time.Time) error      { return nil }
func (f *finalBurstConn) SetReadDeadline(time.Time) error  { return nil }
func (f *finalBurstConn) SetWriteDeadline(time.Time) error { return nil }

func TestReceiveAfterStop(t *testing.T) {
	bus, queue, decoder := newTestParts()
	defer bus.Stop()

	c := NewConn(RoleListener, "127.0.0.1", freePort(t), 4096, decoder, queue, bus)
	c.Stop()

	// A stop that lands between the run loop's liveness check and its next
	// read leaves no socket behind; receive must treat that as end of stream.
	require.NotPanics(t, func() {
		require.Nil(t, c.receive())
	})
}

func TestReceiveForwardsBytesDeliveredWithError(t *testing.T) {
	bus, queue, decoder := newTestParts()
	defer bus.Stop()

	c := NewConn(RoleListener, "127.0.0.1", freePort(t), 4096, decoder, queue, bus)
	require.NoError(t, c.adopt(&finalBurstConn{data: []byte("last words")}))
	defer c.Stop()

	// The payload arriving alongside EOF is still relayed; the EOF shows up
	// as the empty read that ends the generation.
	require.Equal(t, []byte("last words"), c.receive())
	require.Nil(t, c.receive())
}

func TestBackoffInterval(t *testing.T) {
	prev := time.Duration(0)
	for retries := 0; retries <= 500; retries++ {
		d := BackoffInterval(retries)
		require.GreaterOrEqual(t, d, 2*time.Second, "retries=%d", retries)
		require.Less(t, d, 12*time.Second, "retries=%d", retries)
		require.GreaterOrEqual(t, d, prev, "backoff must never shrink (retries=%d)", retries)
		prev = d
	}
	require.Equal(t, 2*time.Second, BackoffInterval(0))
}

func TestRelayRoundTrip(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()
	upstreamPort := uint16(upstream.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener, dialer, proxyPort := startPair(t, ctx, upstreamPort)

	client := dialEventually(t, proxyPort)
	defer client.Close()

	require.NoError(t, upstream.(*net.TCPListener).SetDeadline(time.Now().Add(5*time.Second)))
	serverSide, err := upstream.Accept()
	require.NoError(t, err)
	defer serverSide.Close()

	// Client to server, several chunks, order preserved.
	for _, chunk := range []string{"first", "second", "third"} {
		_, err := client.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, chunk, string(readN(t, serverSide, len(chunk))))
	}

	// Server to client.
	_, err = serverSide.Write([]byte("welcome"))
	require.NoError(t, err)
	require.Equal(t, "welcome", string(readN(t, client, 7)))

	// Client disconnect terminates both halves.
	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return listener.State() == StateClosed && dialer.State() == StateClosed
	}, 5*time.Second, 25*time.Millisecond, "both halves must close after the client disconnects")
}

func TestDialerWaitsForListener(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()
	upstreamPort := uint16(upstream.Addr().(*net.TCPAddr).Port)

	bus, queue, decoder := newTestParts()
	defer bus.Stop()

	listener := NewConn(RoleListener, "127.0.0.1", freePort(t), 4096, decoder, queue, bus)
	dialer := NewConn(RoleDialer, "127.0.0.1", upstreamPort, 4096, decoder, queue, bus)
	Link(listener, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dialer.Run(ctx)
	}()

	// With the listener never running, the dialer must not touch the server.
	require.NoError(t, upstream.(*net.TCPListener).SetDeadline(time.Now().Add(500*time.Millisecond)))
	_, err = upstream.Accept()
	require.Error(t, err, "dialer connected before its paired listener accepted a client")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dialer did not exit on context cancellation")
	}
	require.Equal(t, StateClosed, dialer.State())
}

func TestStopCascadesToPartner(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()
	upstreamPort := uint16(upstream.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener, dialer, proxyPort := startPair(t, ctx, upstreamPort)

	client := dialEventually(t, proxyPort)
	defer client.Close()
	require.NoError(t, upstream.(*net.TCPListener).SetDeadline(time.Now().Add(5*time.Second)))
	serverSide, err := upstream.Accept()
	require.NoError(t, err)
	defer serverSide.Close()

	require.Eventually(t, func() bool {
		return dialer.State() == StateRelaying
	}, 5*time.Second, 25*time.Millisecond)

	// Stopping one half stops the other.
	dialer.Stop()
	require.Eventually(t, func() bool {
		return listener.State() == StateClosed && dialer.State() == StateClosed
	}, 5*time.Second, 25*time.Millisecond)

	// The client's socket is dead too.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = client.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestListenerDrainsInjectionQueue(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()
	upstreamPort := uint16(upstream.Addr().(*net.TCPAddr).Port)

	bus, queue, decoder := newTestParts()
	defer bus.Stop()
	proxyPort := freePort(t)

	listener := NewConn(RoleListener, "127.0.0.1", proxyPort, 4096, decoder, queue, bus)
	dialer := NewConn(RoleDialer, "127.0.0.1", upstreamPort, 4096, decoder, queue, bus)
	Link(listener, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)
	go dialer.Run(ctx)
	defer listener.Stop()

	client := dialEventually(t, proxyPort)
	defer client.Close()
	require.NoError(t, upstream.(*net.TCPListener).SetDeadline(time.Now().Add(5*time.Second)))
	serverSide, err := upstream.Accept()
	require.NoError(t, err)
	defer serverSide.Close()

	// A queued packet rides out on the next client->server forwarding step.
	queue.Push([]byte{0xAA, 0xBB})
	_, err = client.Write([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte{'x', 0xAA, 0xBB}, readN(t, serverSide, 3))
	require.Zero(t, queue.Len())

	// Server->client traffic never drains the queue.
	queue.Push([]byte{0xCC})
	_, err = serverSide.Write([]byte("y"))
	require.NoError(t, err)
	require.Equal(t, []byte{'y'}, readN(t, client, 1))
	require.Equal(t, 1, queue.Len())
}
