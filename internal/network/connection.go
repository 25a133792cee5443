// Package network implements the relay engine: paired proxy connections that
// forward the game's TCP byte stream in both directions, and the per-port
// supervisor that recreates the pair after every disconnect.
package network

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MAKLs/pwn3/internal/events"
	"github.com/MAKLs/pwn3/internal/protocol"
)

// ErrStopped is returned by operations on a connection that has been stopped.
var ErrStopped = errors.New("connection stopped")

// Role determines how a proxy connection obtains its socket.
type Role int

const (
	// RoleListener binds the proxied port and accepts one game client.
	RoleListener Role = iota
	// RoleDialer connects out to the real game server.
	RoleDialer
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleDialer:
		return "dialer"
	default:
		return "invalid"
	}
}

// State is the lifecycle state of a proxy connection.
type State int32

const (
	StateConnecting State = iota
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one TCP half of a proxied pair. Bytes read from its own socket are
// written out through its partner's socket, so a linked listener/dialer pair
// relays full-duplex traffic between a game client and the real server. The
// socket is owned exclusively by its Conn; the partner reaches it only
// through send.
type Conn struct {
	role   Role
	host   string // bind host for a listener, destination host for a dialer
	port   uint16
	bufLen int

	decoder *protocol.Decoder
	queue   *protocol.InjectionQueue
	bus     *events.EventBus
	logger  zerolog.Logger

	partner *Conn

	mu       sync.Mutex
	sock     net.Conn
	listener net.Listener

	state    atomic.Int32
	relaying chan struct{} // closed on transition to StateRelaying
	stopped  chan struct{} // closed on transition to StateClosed
	stopOnce sync.Once

	retries int
}

// NewConn creates an unlinked proxy connection. Link must be called before
// Run.
func NewConn(role Role, host string, port uint16, bufLen int,
	decoder *protocol.Decoder, queue *protocol.InjectionQueue, bus *events.EventBus) *Conn {
	return &Conn{
		role:     role,
		host:     host,
		port:     port,
		bufLen:   bufLen,
		decoder:  decoder,
		queue:    queue,
		bus:      bus,
		relaying: make(chan struct{}),
		stopped:  make(chan struct{}),
		logger: log.With().
			Str("component", "relay").
			Uint16("port", port).
			Str("role", role.String()).
			Logger(),
	}
}

// Link makes two connections partners of each other. Both halves of a pair
// hold the reference for their whole lifetime; either side may initiate the
// cascading stop.
func Link(a, b *Conn) {
	a.partner = b
	b.partner = a
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// IsRunning reports whether the connection has not yet been stopped.
func (c *Conn) IsRunning() bool {
	return c.State() != StateClosed
}

// Role returns the connection's role.
func (c *Conn) Role() Role {
	return c.role
}

// Retries returns how many connect attempts this dialer has made beyond the
// first.
func (c *Conn) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// BackoffInterval computes the dialer's reconnect delay for a retry count:
// 20 * (sigmoid(retries/10) - 0.4) seconds. Starts at 2s and climbs toward,
// but never reaches, 12s.
func BackoffInterval(retries int) time.Duration {
	// The curve is flat past this point; capping the input keeps the result
	// strictly below the 12s asymptote, which float math would otherwise
	// saturate to.
	if retries > 100 {
		retries = 100
	}
	sig := 1 / (1 + math.Exp(-float64(retries)/10))
	// Round, don't truncate: sigmoid(0) computes to a hair under 0.5 in
	// floating point and truncation would land below the 2s floor.
	return time.Duration(math.Round(20 * (sig - 0.4) * float64(time.Second)))
}

// everOpened reports whether the connection reached StateRelaying at any
// point in its life.
func (c *Conn) everOpened() bool {
	select {
	case <-c.relaying:
		return true
	default:
		return false
	}
}

// AwaitRelaying blocks until the connection reaches StateRelaying. It fails
// if the connection stops or the context is cancelled first.
func (c *Conn) AwaitRelaying(ctx context.Context) error {
	select {
	case <-c.relaying:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// open establishes the connection's socket according to its role and moves
// it to StateRelaying.
func (c *Conn) open(ctx context.Context) error {
	var err error
	switch c.role {
	case RoleListener:
		err = c.listen(ctx)
	case RoleDialer:
		err = c.dial(ctx)
	default:
		// A bad role is a construction bug, not a runtime condition.
		return fmt.Errorf("unknown connection role %d", c.role)
	}
	if err != nil {
		return err
	}

	c.state.Store(int32(StateRelaying))
	close(c.relaying)

	remote := c.sock.RemoteAddr().String()
	c.logger.Info().Str("remote", remote).Msg("new connection")
	c.bus.Emit(ctx, events.Event{
		Type:   events.EventConnectionOpened,
		Source: fmt.Sprintf("relay:%d", c.port),
		Payload: events.ConnectionPayload{
			Port:   c.port,
			Role:   c.role.String(),
			Remote: remote,
		},
	})
	return nil
}

// listen binds the proxied port and blocks until exactly one game client
// connects.
func (c *Conn) listen(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(int(c.port)))

	// SO_REUSEADDR lets the next generation rebind while the previous
	// generation's socket is still in TIME_WAIT.
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	if !c.IsRunning() {
		ln.Close()
		return ErrStopped
	}

	conn, err := ln.Accept()

	c.mu.Lock()
	c.listener = nil
	c.mu.Unlock()
	ln.Close()

	if err != nil {
		return fmt.Errorf("accept on %s: %w", addr, err)
	}
	return c.adopt(conn)
}

// dial connects to the real game server, retrying indefinitely with backoff
// while the server refuses. It never dials before the paired listener has
// accepted a client: connecting to the real server with nobody to proxy for
// would open a dangling session.
func (c *Conn) dial(ctx context.Context) error {
	if err := c.partner.AwaitRelaying(ctx); err != nil {
		return fmt.Errorf("awaiting paired listener: %w", err)
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(int(c.port)))
	dialer := net.Dialer{}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return c.adopt(conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.IsRunning() {
			return ErrStopped
		}

		c.mu.Lock()
		interval := BackoffInterval(c.retries)
		c.retries++
		c.mu.Unlock()

		c.logger.Warn().
			Err(err).
			Dur("retry_in", interval).
			Msg("connect failed, retrying")

		select {
		case <-time.After(interval):
		case <-c.stopped:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// adopt takes ownership of an established socket, closing it instead when a
// concurrent Stop already won.
func (c *Conn) adopt(conn net.Conn) error {
	c.mu.Lock()
	c.sock = conn
	c.mu.Unlock()
	if !c.IsRunning() {
		conn.Close()
		return ErrStopped
	}
	return nil
}

// receive blocks on the owned socket and returns the bytes read. An empty
// result means the connection was stopped, the peer closed, or the socket
// failed; either way the current generation is over.
func (c *Conn) receive() []byte {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil
	}

	// Bytes delivered together with an error are still forwarded; the error
	// itself surfaces as the zero-length read on the next iteration.
	buf := make([]byte, c.bufLen)
	n, _ := sock.Read(buf)
	if n == 0 {
		return nil
	}
	return buf[:n]
}

// send forwards bytes out through the partner's socket, waiting first for
// the partner to be relaying. A write failure tears down the pair.
func (c *Conn) send(ctx context.Context, data []byte) error {
	if err := c.partner.AwaitRelaying(ctx); err != nil {
		return err
	}
	if _, err := c.partner.write(data); err != nil {
		c.logger.Warn().Err(err).Msg("send failed, stopping pair")
		c.Stop()
		return err
	}
	return nil
}

func (c *Conn) write(data []byte) (int, error) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return 0, ErrStopped
	}
	return sock.Write(data)
}

// Run drives the connection through its whole lifecycle: open the socket,
// then relay until the peer closes or the pair is stopped. Every received
// buffer is forwarded unmodified before it is handed to the decoder; decode
// results never delay or alter the relayed bytes. Only the listener half
// drains the injection queue, so synthesized packets always travel
// client->server.
func (c *Conn) Run(ctx context.Context) {
	defer c.Stop()

	if err := c.open(ctx); err != nil {
		if c.IsRunning() && !errors.Is(err, ErrStopped) {
			c.logger.Error().Err(err).Msg("failed to open connection")
		}
		return
	}

	origin := events.OriginServer
	if c.role == RoleListener {
		origin = events.OriginClient
	}

	for c.IsRunning() {
		data := c.receive()
		if len(data) == 0 {
			c.logger.Info().Msg("peer closed, exiting run loop")
			return
		}

		if err := c.send(ctx, data); err != nil {
			return
		}

		c.bus.Emit(ctx, events.Event{
			Type:   events.EventBytesForwarded,
			Source: fmt.Sprintf("relay:%d", c.port),
			Payload: events.BytesForwardedPayload{
				Port:   c.port,
				Origin: origin,
				Bytes:  len(data),
			},
		})

		// Best-effort observation; the bytes were already forwarded.
		c.decoder.Decode(ctx, data, c.port, origin)

		if c.role == RoleListener {
			if pkt, ok := c.queue.TryPop(); ok {
				if err := c.send(ctx, pkt); err != nil {
					return
				}
			}
		}
	}
}

// Stop closes the owned socket (and listener, if still pending accept),
// marks the connection closed, and cascades to the partner so both halves
// of a pair always terminate together. Idempotent.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosed))

		c.mu.Lock()
		ln, sock := c.listener, c.sock
		c.listener, c.sock = nil, nil
		c.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		if sock != nil {
			// Tolerates sockets already closed by the peer.
			if err := sock.Close(); err != nil {
				c.logger.Debug().Err(err).Msg("stop error")
			}
		}

		close(c.stopped)
		c.logger.Info().Msg("connection stopped")
		c.bus.Emit(context.Background(), events.Event{
			Type:   events.EventConnectionClosed,
			Source: fmt.Sprintf("relay:%d", c.port),
			Payload: events.ConnectionPayload{
				Port: c.port,
				Role: c.role.String(),
			},
		})

		if p := c.partner; p != nil && p.IsRunning() {
			p.Stop()
		}
	})
}
