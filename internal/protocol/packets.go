// Package protocol implements the decoder and builder for the PwnAdventure 3
// client-server packet stream, plus the injection queue that carries
// synthesized packets back to the relay engine. Packets are identified by a
// 2-byte tag; all multi-byte numeric fields are little-endian unless noted.
// There is no global length header, so field widths below are the only
// framing information available.
package protocol

// TagSize is the width of the packet tag prefix in bytes.
const TagSize = 2

// Packet tags, read big-endian so the constant value spells the two ASCII
// tag bytes (0x6D76 = "mv").
const (
	TagAck          uint16 = 0x0000 // keepalive/ack, no payload
	TagPosition     uint16 = 0x6D76 // "mv" player position
	TagJump         uint16 = 0x6A70 // "jp" jump state
	TagSneak        uint16 = 0x726E // "rn" sneak state
	TagSlotSelect   uint16 = 0x733D // "s=" hotbar slot change
	TagShoot        uint16 = 0x2A69 // "*i" weapon fired
	TagChat         uint16 = 0x232A // "#*" chat message
	TagActorDrop    uint16 = 0x6D6B // "mk" actor/item dropped into world
	TagRegionChange uint16 = 0x6368 // "ch" region transition
	TagItemAcquire  uint16 = 0x6370 // "cp" item added to inventory
	TagItemPickup   uint16 = 0x6565 // "ee" item picked up by id
	TagReload       uint16 = 0x726C // "rl" weapon reload
	TagHealth       uint16 = 0x2B2B // "++" actor health update
	TagMana         uint16 = 0x6D61 // "ma" player mana update
	TagPs           uint16 = 0x7073 // "ps" unidentified, fixed 28-byte body
	TagState        uint16 = 0x7374 // "st" actor state string
	TagAttack       uint16 = 0x7472 // "tr" attack performed
	TagLoadedAmmo   uint16 = 0x6C61 // "la" ammo remaining after a shot
)

// Opcodes for injected packets. OpPickup goes on the wire little-endian
// (yielding the "ee" tag), OpReload big-endian (yielding "rl"). Byte order
// must be preserved exactly for the real server to accept them.
const (
	OpPickup uint16 = 0x6565
	OpReload uint16 = 0x726C
)

// Fixed body sizes for packets whose consumption is not derived from
// length-prefixed sub-fields.
const (
	positionBodySize = 20 // 3 floats + 8 trailing bytes of unknown purpose
	psBodySize       = 28 // opaque, skipped wholesale
)
