package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/MAKLs/pwn3/internal/events"
	"github.com/MAKLs/pwn3/internal/util"
)

// ErrInvalidString is returned when a length-prefixed text field does not
// hold valid UTF-8. The reload handler treats it as the empty "need reload"
// signal; everywhere else it is a decode failure.
var ErrInvalidString = errors.New("text field is not valid UTF-8")

// Decoder turns the raw proxied byte stream into human-readable events and,
// for two packet kinds, queues synthesized packets on the injection queue.
// It never touches the forwarded bytes: decoding is best-effort telemetry
// and a failure here must not affect the relay.
type Decoder struct {
	bus        *events.EventBus
	queue      *InjectionQueue
	masterPort uint16
	handlers   map[uint16]packetHandler
	logger     zerolog.Logger
}

type decodeScope struct {
	ctx    context.Context
	port   uint16
	origin events.Origin
}

type packetHandler struct {
	name string
	// suppress drops the decoded message from console output; the packet is
	// still consumed (and side effects still fire).
	suppress bool
	decode   func(d *Decoder, s decodeScope, data []byte) (rest []byte, msg string, err error)
}

// NewDecoder creates a decoder wired to the given event bus and injection
// queue. Traffic on masterPort is skipped entirely. The dispatch table is
// resolved here and immutable afterwards.
func NewDecoder(bus *events.EventBus, queue *InjectionQueue, masterPort uint16) *Decoder {
	d := &Decoder{
		bus:        bus,
		queue:      queue,
		masterPort: masterPort,
		logger:     util.ComponentLogger("decoder"),
	}
	d.handlers = map[uint16]packetHandler{
		TagAck:          {name: "ack", suppress: true, decode: (*Decoder).decodeAck},
		TagPosition:     {name: "position", suppress: true, decode: (*Decoder).decodePosition},
		TagJump:         {name: "jump", decode: (*Decoder).decodeJump},
		TagSneak:        {name: "sneak", decode: (*Decoder).decodeSneak},
		TagSlotSelect:   {name: "slot_select", decode: (*Decoder).decodeSlotSelect},
		TagShoot:        {name: "shoot", decode: (*Decoder).decodeShoot},
		TagChat:         {name: "chat", decode: (*Decoder).decodeChat},
		TagActorDrop:    {name: "actor_drop", decode: (*Decoder).decodeActorDrop},
		TagRegionChange: {name: "region_change", decode: (*Decoder).decodeRegionChange},
		TagItemAcquire:  {name: "item_acquire", decode: (*Decoder).decodeItemAcquire},
		TagItemPickup:   {name: "item_pickup", decode: (*Decoder).decodeItemPickup},
		TagReload:       {name: "reload", decode: (*Decoder).decodeReload},
		TagHealth:       {name: "health", suppress: true, decode: (*Decoder).decodeHealth},
		TagMana:         {name: "mana", suppress: true, decode: (*Decoder).decodeMana},
		TagPs:           {name: "ps", suppress: true, decode: (*Decoder).decodePs},
		TagState:        {name: "state", decode: (*Decoder).decodeState},
		TagAttack:       {name: "attack", decode: (*Decoder).decodeAttack},
		TagLoadedAmmo:   {name: "loaded_ammo", decode: (*Decoder).decodeLoadedAmmo},
	}
	return d
}

// Decode consumes a proxied buffer packet-by-packet. The buffer has no
// global length header: each handler derives its own consumption from the
// packet's length-prefixed sub-fields. An unrecognized tag slides the
// cursor forward one byte and retries, which is the only resync available
// without framing information; it is reported only when hit on the first
// iteration so a garbage run does not flood the console.
func (d *Decoder) Decode(ctx context.Context, data []byte, port uint16, origin events.Origin) {
	// Master server traffic is uninteresting; only game instances are decoded.
	if port == d.masterPort {
		return
	}

	s := decodeScope{ctx: ctx, port: port, origin: origin}

	for iteration := 1; len(data) >= TagSize; iteration++ {
		tag := binary.BigEndian.Uint16(data[:TagSize])
		h, ok := d.handlers[tag]
		if !ok {
			if iteration == 1 {
				d.bus.EmitSync(ctx, events.Event{
					Type:   events.EventUnknownTag,
					Source: d.source(port),
					Payload: events.UnknownTagPayload{
						Port:   port,
						Origin: origin,
						Tag:    [2]byte{data[0], data[1]},
						Buffer: data,
					},
				})
			}
			data = data[1:]
			continue
		}

		rest, msg, err := h.decode(d, s, data[TagSize:])
		if err != nil {
			d.logger.Debug().
				Err(err).
				Str("packet", h.name).
				Uint16("port", port).
				Msg("decode failed")
			d.bus.EmitSync(ctx, events.Event{
				Type:   events.EventDecodeError,
				Source: d.source(port),
				Payload: events.DecodeErrorPayload{
					Port:   port,
					Origin: origin,
					Err:    fmt.Errorf("%s: %w", h.name, err),
					Buffer: data,
				},
			})
			return
		}

		if !h.suppress && msg != "" {
			d.bus.EmitSync(ctx, events.Event{
				Type:   events.EventPacketDecoded,
				Source: d.source(port),
				Payload: events.PacketDecodedPayload{
					Port:    port,
					Origin:  origin,
					Message: msg,
				},
			})
		}

		data = rest
	}
}

func (d *Decoder) source(port uint16) string {
	return fmt.Sprintf("decoder:%d", port)
}

// inject queues a synthesized packet and announces it on the bus.
func (d *Decoder) inject(s decodeScope, reason string, pkt []byte) {
	d.queue.Push(pkt)
	d.bus.EmitSync(s.ctx, events.Event{
		Type:   events.EventPacketInjected,
		Source: d.source(s.port),
		Payload: events.PacketInjectedPayload{
			Port:   s.port,
			Reason: reason,
			Packet: pkt,
		},
	})
}

// ---- Per-tag handlers ----
//
// Each handler receives the buffer with the tag already stripped and returns
// the unconsumed remainder. Consumption rules are wire-exact, including the
// original client's quirks (position carries 8 trailing bytes, shoot leaves
// its direction floats in the stream).

func (d *Decoder) decodeAck(s decodeScope, data []byte) ([]byte, string, error) {
	return data, "", nil
}

func (d *Decoder) decodePosition(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < positionBodySize {
		return nil, "", fmt.Errorf("position: need %d bytes, have %d", positionBodySize, len(data))
	}
	var pos [3]float32
	binary.Read(bytes.NewReader(data[:12]), binary.LittleEndian, &pos)
	msg := fmt.Sprintf("Current Position (x,y,z): %v %v %v", pos[0], pos[1], pos[2])
	return data[positionBodySize:], msg, nil
}

func (d *Decoder) decodeJump(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 1 {
		return nil, "", io.ErrUnexpectedEOF
	}
	if data[0] != 0 {
		return data[1:], "Jumping", nil
	}
	return data[1:], "Falling", nil
}

func (d *Decoder) decodeSneak(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 1 {
		return nil, "", io.ErrUnexpectedEOF
	}
	// Flag is inverted on the wire: zero means sneaking.
	if data[0] == 0 {
		return data[1:], "Sneaking", nil
	}
	return data[1:], "Done sneaking", nil
}

func (d *Decoder) decodeSlotSelect(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 1 {
		return nil, "", io.ErrUnexpectedEOF
	}
	return data[1:], fmt.Sprintf("New slot: %d", data[0]), nil
}

func (d *Decoder) decodeShoot(s decodeScope, data []byte) ([]byte, string, error) {
	r := bytes.NewReader(data)
	name, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("weapon name: %w", err)
	}
	// Consumption stops after the name: the 12 direction bytes are peeked
	// for the message but stay in the stream.
	rest := data[len(data)-r.Len():]
	var dir [3]float32
	if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
		return nil, "", fmt.Errorf("direction: %w", err)
	}
	msg := fmt.Sprintf("Shot %s in direction: (%v, %v, %v)", name, dir[0], dir[1], dir[2])
	return rest, msg, nil
}

func (d *Decoder) decodeChat(s decodeScope, data []byte) ([]byte, string, error) {
	r := bytes.NewReader(data)
	message, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("message: %w", err)
	}
	return data[len(data)-r.Len():], fmt.Sprintf("Sent message: %q", message), nil
}

func (d *Decoder) decodeActorDrop(s decodeScope, data []byte) ([]byte, string, error) {
	// Layout: id:4, unknown:4, unknown2:1, name length at offset 9, then the
	// name and a 3-float drop position. The two unknown fields keep their
	// widths for wire compatibility; their meaning is unassigned.
	const headerSize = 11
	if len(data) < headerSize {
		return nil, "", fmt.Errorf("header: need %d bytes, have %d", headerSize, len(data))
	}
	itemID := binary.LittleEndian.Uint32(data[:4])
	nameLen := int(binary.LittleEndian.Uint16(data[9:11]))
	end := headerSize + nameLen + 12
	if len(data) < end {
		return nil, "", fmt.Errorf("body: need %d bytes, have %d", end, len(data))
	}
	nameBytes := data[headerSize : headerSize+nameLen]
	if !utf8.Valid(nameBytes) {
		return nil, "", fmt.Errorf("item name: %w", ErrInvalidString)
	}
	name := string(nameBytes)

	var pos [3]float32
	binary.Read(bytes.NewReader(data[headerSize+nameLen:end]), binary.LittleEndian, &pos)

	msg := fmt.Sprintf("[%d] %s dropped at: %v %v %v", itemID, name, pos[0], pos[1], pos[2])
	if strings.Contains(name, "Drop") {
		msg += fmt.Sprintf("\n\t;) Auto-looting %d", itemID)
		d.inject(s, fmt.Sprintf("auto-loot item %d", itemID), BuildPickupRequest(itemID))
	}
	return data[end:], msg, nil
}

func (d *Decoder) decodeRegionChange(s decodeScope, data []byte) ([]byte, string, error) {
	r := bytes.NewReader(data)
	region, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("region name: %w", err)
	}
	return data[len(data)-r.Len():], fmt.Sprintf("Changing to region: %s", strings.ToUpper(region)), nil
}

func (d *Decoder) decodeItemAcquire(s decodeScope, data []byte) ([]byte, string, error) {
	r := bytes.NewReader(data)
	name, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("item name: %w", err)
	}
	var amount uint32
	if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
		return nil, "", fmt.Errorf("amount: %w", err)
	}
	return data[len(data)-r.Len():], fmt.Sprintf("Received %d %s", amount, name), nil
}

func (d *Decoder) decodeItemPickup(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 4 {
		return nil, "", io.ErrUnexpectedEOF
	}
	itemID := binary.LittleEndian.Uint32(data[:4])
	return data[4:], fmt.Sprintf("Picked up item with ID %d", itemID), nil
}

func (d *Decoder) decodeReload(s decodeScope, data []byte) ([]byte, string, error) {
	r := bytes.NewReader(data)

	weapon, err := readString(r)
	if errors.Is(err, ErrInvalidString) {
		// The client sends a garbage-text reload frame when it wants the
		// player to reload; consume nothing and report the signal.
		return data, "Need to reload!", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("weapon name: %w", err)
	}

	ammo, err := readString(r)
	if errors.Is(err, ErrInvalidString) {
		return data, "Need to reload!", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("ammo name: %w", err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, "", fmt.Errorf("ammo count: %w", err)
	}
	return data[len(data)-r.Len():], fmt.Sprintf("Reloaded %s with %d %s", weapon, count, ammo), nil
}

func (d *Decoder) decodeHealth(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 6 {
		return nil, "", io.ErrUnexpectedEOF
	}
	actorID := binary.LittleEndian.Uint32(data[:4])
	hp := int16(binary.LittleEndian.Uint16(data[4:6]))
	return data[6:], fmt.Sprintf("Actor %d has %d HP", actorID, hp), nil
}

func (d *Decoder) decodeMana(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 2 {
		return nil, "", io.ErrUnexpectedEOF
	}
	mana := binary.LittleEndian.Uint16(data[:2])
	return data[2:], fmt.Sprintf("Player has %d mana", mana), nil
}

func (d *Decoder) decodePs(s decodeScope, data []byte) ([]byte, string, error) {
	// Opaque fixed-length packet; structure unknown, skipped wholesale.
	if len(data) < psBodySize {
		return nil, "", fmt.Errorf("ps: need %d bytes, have %d", psBodySize, len(data))
	}
	return data[psBodySize:], "", nil
}

func (d *Decoder) decodeState(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 4 {
		return nil, "", io.ErrUnexpectedEOF
	}
	actorID := binary.LittleEndian.Uint32(data[:4])
	r := bytes.NewReader(data[4:])
	state, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("state: %w", err)
	}
	return data[len(data)-r.Len():], fmt.Sprintf("Actor %d in %s state", actorID, state), nil
}

func (d *Decoder) decodeAttack(s decodeScope, data []byte) ([]byte, string, error) {
	if len(data) < 4 {
		return nil, "", io.ErrUnexpectedEOF
	}
	attackerID := binary.LittleEndian.Uint32(data[:4])
	r := bytes.NewReader(data[4:])
	attack, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("attack name: %w", err)
	}
	var victimID uint32
	if err := binary.Read(r, binary.LittleEndian, &victimID); err != nil {
		return nil, "", fmt.Errorf("victim id: %w", err)
	}
	msg := fmt.Sprintf("Actor %d performed %q on Actor %d", attackerID, attack, victimID)
	return data[len(data)-r.Len():], msg, nil
}

func (d *Decoder) decodeLoadedAmmo(s decodeScope, data []byte) ([]byte, string, error) {
	r := bytes.NewReader(data)
	weapon, err := readString(r)
	if err != nil {
		return nil, "", fmt.Errorf("weapon name: %w", err)
	}
	var loaded uint32
	if err := binary.Read(r, binary.LittleEndian, &loaded); err != nil {
		return nil, "", fmt.Errorf("loaded count: %w", err)
	}

	msg := fmt.Sprintf("%s has %d shots remaining", weapon, loaded)
	if loaded == 0 {
		msg += "\n\t;) Auto-reloading"
		d.inject(s, "auto-reload", BuildReloadRequest())
	}
	return data[len(data)-r.Len():], msg, nil
}

// readString reads a u16-length-prefixed UTF-8 string, the framing used by
// every text field in the game protocol.
func readString(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}

	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	if !utf8.Valid(buf) {
		return "", ErrInvalidString
	}
	return string(buf), nil
}
