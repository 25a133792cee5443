// Package events defines event types and the publish-subscribe bus that
// connects the relay engine and packet decoder to their output sinks.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Decoder events
	EventPacketDecoded  EventType = "packet_decoded"
	EventUnknownTag     EventType = "unknown_tag"
	EventDecodeError    EventType = "decode_error"
	EventPacketInjected EventType = "packet_injected"

	// Relay lifecycle events
	EventConnectionOpened  EventType = "connection_opened"
	EventConnectionClosed  EventType = "connection_closed"
	EventGenerationStarted EventType = "generation_started"
	EventBytesForwarded    EventType = "bytes_forwarded"

	// System events
	EventShutdown EventType = "shutdown"
)

// Origin identifies which peer a proxied buffer was read from.
type Origin int

const (
	OriginClient Origin = iota // game client -> server traffic
	OriginServer               // server -> game client traffic
)

// Marker returns the direction marker printed in front of decoded messages.
func (o Origin) Marker() string {
	switch o {
	case OriginClient:
		return "-->>"
	case OriginServer:
		return "<<--"
	default:
		return "????"
	}
}

func (o Origin) String() string {
	switch o {
	case OriginClient:
		return "client"
	case OriginServer:
		return "server"
	default:
		return "unknown"
	}
}

// Event is a single message published on the EventBus.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// PacketDecodedPayload carries one human-readable line for a decoded packet.
type PacketDecodedPayload struct {
	Port    uint16
	Origin  Origin
	Message string
}

// UnknownTagPayload reports an unrecognized 2-byte tag and the buffer it
// was found in.
type UnknownTagPayload struct {
	Port   uint16
	Origin Origin
	Tag    [2]byte
	Buffer []byte
}

// DecodeErrorPayload reports a packet that failed to decode; relaying of the
// bytes is unaffected.
type DecodeErrorPayload struct {
	Port   uint16
	Origin Origin
	Err    error
	Buffer []byte
}

// PacketInjectedPayload describes a synthetic packet queued for injection
// into the client->server stream.
type PacketInjectedPayload struct {
	Port   uint16
	Reason string
	Packet []byte
}

// ConnectionPayload describes one half of a proxied pair.
type ConnectionPayload struct {
	Port   uint16
	Role   string
	Remote string
}

// GenerationPayload marks the start of a fresh listener/dialer pair.
type GenerationPayload struct {
	Port       uint16
	Generation uint64
}

// BytesForwardedPayload counts bytes relayed in one read/forward step.
type BytesForwardedPayload struct {
	Port   uint16
	Origin Origin
	Bytes  int
}
