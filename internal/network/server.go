package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MAKLs/pwn3/internal/events"
	"github.com/MAKLs/pwn3/internal/protocol"
)

// bindRetryInterval is the pause before recreating a generation whose
// listener never managed to bind its port.
const bindRetryInterval = 3 * time.Second

// ProxyServer supervises one proxied port. Each cycle of its loop is a
// generation: a fresh listener/dialer pair is created, linked, run to joint
// termination, and replaced. Replacing the pair after every disconnect is
// what gives both legs automatic reconnect semantics.
type ProxyServer struct {
	listenHost string
	destHost   string
	port       uint16
	bufLen     int

	decoder *protocol.Decoder
	queue   *protocol.InjectionQueue
	bus     *events.EventBus
	logger  zerolog.Logger

	generation atomic.Uint64
}

// NewProxyServer creates a supervisor for one port. listenHost is the local
// bind address for game clients; destHost is the real game server.
func NewProxyServer(listenHost, destHost string, port uint16, bufLen int,
	decoder *protocol.Decoder, queue *protocol.InjectionQueue, bus *events.EventBus) *ProxyServer {
	return &ProxyServer{
		listenHost: listenHost,
		destHost:   destHost,
		port:       port,
		bufLen:     bufLen,
		decoder:    decoder,
		queue:      queue,
		bus:        bus,
		logger: log.With().
			Str("component", "proxy_server").
			Uint16("port", port).
			Logger(),
	}
}

// Port returns the proxied port.
func (s *ProxyServer) Port() uint16 {
	return s.port
}

// Generation returns the number of listener/dialer pairs created so far.
func (s *ProxyServer) Generation() uint64 {
	return s.generation.Load()
}

// Run loops generations until the context is cancelled. Both connections of
// a generation must fully terminate (sockets closed) before the next
// generation's listener rebinds.
func (s *ProxyServer) Run(ctx context.Context) {
	s.logger.Info().
		Str("listen_host", s.listenHost).
		Str("dest_host", s.destHost).
		Msg("starting proxy")

	for ctx.Err() == nil {
		gen := s.generation.Add(1)
		s.bus.Emit(ctx, events.Event{
			Type:   events.EventGenerationStarted,
			Source: fmt.Sprintf("proxy_server:%d", s.port),
			Payload: events.GenerationPayload{
				Port:       s.port,
				Generation: gen,
			},
		})

		listener := NewConn(RoleListener, s.listenHost, s.port, s.bufLen, s.decoder, s.queue, s.bus)
		dialer := NewConn(RoleDialer, s.destHost, s.port, s.bufLen, s.decoder, s.queue, s.bus)
		Link(listener, dialer)

		genCtx, cancel := context.WithCancel(ctx)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			listener.Run(genCtx)
		}()
		go func() {
			defer wg.Done()
			dialer.Run(genCtx)
		}()

		// Cancellation from above must unblock a pair that is still sitting
		// in accept or connect-retry.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-genCtx.Done():
				listener.Stop()
			case <-watchDone:
			}
		}()

		wg.Wait()
		close(watchDone)
		cancel()

		s.logger.Debug().Uint64("generation", gen).Msg("generation terminated")

		// A generation that died before its listener ever accepted means the
		// bind itself failed; pause instead of respinning the bind error.
		if !listener.everOpened() {
			select {
			case <-time.After(bindRetryInterval):
			case <-ctx.Done():
			}
		}
	}

	s.logger.Info().Msg("proxy stopped")
}
