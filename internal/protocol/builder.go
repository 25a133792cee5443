package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs binary packets for injection into the
// client->server stream.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint16BE writes a uint16 in big-endian order. Only the injected
// reload opcode uses this.
func (b *PacketBuilder) WriteUint16BE(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt16 writes an int16 in little-endian order.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFloat32 writes a float32 in little-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteString writes a u16-length-prefixed string, the game protocol's
// framing for all text fields.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	data := []byte(s)
	binary.Write(&b.buf, binary.LittleEndian, uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteTag writes a 2-byte packet tag (big-endian, so the constant's ASCII
// byte order is preserved on the wire).
func (b *PacketBuilder) WriteTag(tag uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, tag)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	data := b.buf.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Pre-built packet constructors ----

// BuildPickupRequest creates the injected auto-loot packet:
// [0x65,0x65] opcode (little-endian) followed by the u32 item id.
func BuildPickupRequest(itemID uint32) []byte {
	return NewPacketBuilder().
		WriteUint16(OpPickup).
		WriteUint32(itemID).
		Build()
}

// BuildReloadRequest creates the injected auto-reload packet: the fixed
// big-endian opcode [0x72,0x6C] with no payload.
func BuildReloadRequest() []byte {
	return NewPacketBuilder().
		WriteUint16BE(OpReload).
		Build()
}
