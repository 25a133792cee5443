package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MAKLs/pwn3/internal/events"
)

// PortStats are the per-port counters shown in the CLI status table.
type PortStats struct {
	Port           uint16
	Generations    uint64
	OpenHalves     int // connection halves currently open (0-2)
	BytesClient    uint64
	BytesServer    uint64
	PacketsDecoded uint64
	UnknownTags    uint64
	DecodeErrors   uint64
	Injections     uint64
	LastActivity   time.Time
}

// StatsCollector accumulates relay and decoder counters from the event bus.
// Counters live only in memory for the lifetime of the process.
type StatsCollector struct {
	mu    sync.Mutex
	ports map[uint16]*PortStats
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{ports: make(map[uint16]*PortStats)}
}

// Register subscribes the collector to every event it counts.
func (sc *StatsCollector) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventGenerationStarted, "stats", sc.handle)
	bus.Subscribe(events.EventConnectionOpened, "stats", sc.handle)
	bus.Subscribe(events.EventConnectionClosed, "stats", sc.handle)
	bus.Subscribe(events.EventBytesForwarded, "stats", sc.handle)
	bus.Subscribe(events.EventPacketDecoded, "stats", sc.handle)
	bus.Subscribe(events.EventUnknownTag, "stats", sc.handle)
	bus.Subscribe(events.EventDecodeError, "stats", sc.handle)
	bus.Subscribe(events.EventPacketInjected, "stats", sc.handle)
}

func (sc *StatsCollector) handle(ctx context.Context, event events.Event) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch p := event.Payload.(type) {
	case events.GenerationPayload:
		s := sc.port(p.Port)
		s.Generations = p.Generation
	case events.ConnectionPayload:
		s := sc.port(p.Port)
		if event.Type == events.EventConnectionOpened {
			s.OpenHalves++
		} else if s.OpenHalves > 0 {
			s.OpenHalves--
		}
	case events.BytesForwardedPayload:
		s := sc.port(p.Port)
		if p.Origin == events.OriginClient {
			s.BytesClient += uint64(p.Bytes)
		} else {
			s.BytesServer += uint64(p.Bytes)
		}
		s.LastActivity = time.Now()
	case events.PacketDecodedPayload:
		sc.port(p.Port).PacketsDecoded++
	case events.UnknownTagPayload:
		sc.port(p.Port).UnknownTags++
	case events.DecodeErrorPayload:
		sc.port(p.Port).DecodeErrors++
	case events.PacketInjectedPayload:
		sc.port(p.Port).Injections++
	}
	return nil
}

func (sc *StatsCollector) port(port uint16) *PortStats {
	s, ok := sc.ports[port]
	if !ok {
		s = &PortStats{Port: port}
		sc.ports[port] = s
	}
	return s
}

// Snapshot returns a copy of all per-port stats, sorted by port.
func (sc *StatsCollector) Snapshot() []PortStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]PortStats, 0, len(sc.ports))
	for _, s := range sc.ports {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}
