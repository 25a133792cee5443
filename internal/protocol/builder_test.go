package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketBuilderChaining(t *testing.T) {
	pkt := NewPacketBuilder().
		WriteTag(TagChat).
		WriteString("hi").
		WriteUint8(0x7F).
		WriteUint32(0x01020304).
		Build()

	require.Equal(t, []byte{
		0x23, 0x2A, // tag, ASCII order preserved
		0x02, 0x00, 'h', 'i', // length-prefixed text, little-endian length
		0x7F,
		0x04, 0x03, 0x02, 0x01, // little-endian u32
	}, pkt)
}

func TestPacketBuilderBuildCopies(t *testing.T) {
	b := NewPacketBuilder().WriteUint16(0x1234)
	first := b.Build()
	b.WriteUint16(0x5678)

	require.Equal(t, []byte{0x34, 0x12}, first, "earlier build must not see later writes")
	require.Equal(t, 4, b.Len())
}

func TestPacketBuilderReset(t *testing.T) {
	b := NewPacketBuilder().WriteString("scratch")
	b.Reset()
	require.Zero(t, b.Len())
	require.Empty(t, b.Build())
}

func TestBuildPickupRequest(t *testing.T) {
	require.Equal(t, []byte{0x65, 0x65, 0xD2, 0x04, 0x00, 0x00}, BuildPickupRequest(1234))
}

func TestBuildReloadRequest(t *testing.T) {
	require.Equal(t, []byte{0x72, 0x6C}, BuildReloadRequest())
}

func TestInjectionQueueFIFO(t *testing.T) {
	q := NewInjectionQueue()

	_, ok := q.TryPop()
	require.False(t, ok, "pop on empty queue must not block or panic")

	q.Push([]byte{1})
	q.Push([]byte{2})
	q.Push([]byte{3})
	require.Equal(t, 3, q.Len())

	for i := byte(1); i <= 3; i++ {
		pkt, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, []byte{i}, pkt)
	}
	require.Zero(t, q.Len())
}
