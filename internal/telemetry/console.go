// Package telemetry implements the proxy's observability surface: the
// console sink that prints decoded traffic, and the in-memory stats
// collector behind the CLI status table. Console text is the only output
// channel; nothing is persisted or exported.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MAKLs/pwn3/internal/events"
)

// ConsoleSink prints decoded packet lines to standard output, one line per
// non-suppressed packet, prefixed with a direction marker. It subscribes to
// the decoder's synchronous events so lines appear in observation order.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink creates a sink writing to out, or os.Stdout when nil.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out}
}

// Register subscribes the sink to the decoder's output events.
func (cs *ConsoleSink) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventPacketDecoded, "console_sink", cs.handleDecoded)
	bus.Subscribe(events.EventUnknownTag, "console_sink", cs.handleUnknownTag)
	bus.Subscribe(events.EventDecodeError, "console_sink", cs.handleDecodeError)
}

func (cs *ConsoleSink) handleDecoded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PacketDecodedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	cs.printf("[%s] %s\n", p.Origin.Marker(), p.Message)
	return nil
}

func (cs *ConsoleSink) handleUnknownTag(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.UnknownTagPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	cs.printf("[%02x %02x] - % x\n", p.Tag[0], p.Tag[1], p.Buffer)
	return nil
}

func (cs *ConsoleSink) handleDecodeError(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.DecodeErrorPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	cs.printf("Failed to parse data\n\tReason: %v\n\tData: % x\n", p.Err, p.Buffer)
	return nil
}

func (cs *ConsoleSink) printf(format string, args ...any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	fmt.Fprintf(cs.out, format, args...)
}
