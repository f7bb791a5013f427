package buffer

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/packet"
)

func TestRecvBufferInOrderDelivery(t *testing.T) {
	b := NewRecvBuffer(1024, 100)

	require.Equal(t, AcceptInOrder, b.Accept(100, []byte("HELLO")))
	require.Equal(t, 5, b.Len())

	out := make([]byte, 5)
	n := b.Read(out)
	require.Equal(t, 5, n)
	require.Equal(t, "HELLO", string(out))
}

func TestRecvBufferOutOfOrderThenSplice(t *testing.T) {
	b := NewRecvBuffer(1024, 100)

	require.Equal(t, AcceptOutOfOrder, b.Accept(105, []byte("WORLD")))
	require.Equal(t, 0, b.Len())

	require.Equal(t, AcceptInOrder, b.Accept(100, []byte("HELLO")))
	require.Equal(t, 10, b.Len(), "out-of-order segment should splice in")

	out := make([]byte, 10)
	b.Read(out)
	require.Equal(t, "HELLOWORLD", string(out))
}

func TestRecvBufferDuplicateDropped(t *testing.T) {
	b := NewRecvBuffer(1024, 100)
	b.Accept(100, []byte("HI"))
	require.Equal(t, AcceptDuplicate, b.Accept(100, []byte("HI")))
	require.Equal(t, 2, b.Len())
}

func TestRecvBufferFullRejects(t *testing.T) {
	b := NewRecvBuffer(4, 0)
	require.Equal(t, AcceptFull, b.Accept(0, []byte("TOOLONG")))
}

// TestRecvBufferAcceptHandlesSequenceWraparound guards against a raw
// uint32 comparison in Accept misclassifying in-order data as
// out-of-order once the sequence space wraps past 0.
func TestRecvBufferAcceptHandlesSequenceWraparound(t *testing.T) {
	b := NewRecvBuffer(1024, 0xFFFFFFFE)
	require.Equal(t, AcceptInOrder, b.Accept(0xFFFFFFFE, []byte("AB")))
	require.Equal(t, uint32(0), b.NextSeq(), "next wraps past the uint32 boundary")

	require.Equal(t, AcceptInOrder, b.Accept(0, []byte("CD")))
	require.Equal(t, uint32(2), b.NextSeq())
	require.Equal(t, 4, b.Len())

	require.Equal(t, AcceptDuplicate, b.Accept(0xFFFFFFFE, []byte("AB")))
}

func TestSendBufferWriteRespectsCapacity(t *testing.T) {
	b := NewSendBuffer(5)
	n := b.Write([]byte("HELLOWORLD"))
	require.Equal(t, 5, n)
	require.Equal(t, 0, b.Available())

	b.Consume(5)
	require.Equal(t, 0, b.Len())
	require.Equal(t, 5, b.Available())
}

func TestRetransmitSetRemoveCovered(t *testing.T) {
	s := NewRetransmitSet()

	p1 := packet.New(packet.Header{Protocol: packet.ProtocolTCP, SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), Seq: 0}, []byte("AAAA"))
	p2 := packet.New(packet.Header{Protocol: packet.ProtocolTCP, SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), Seq: 4}, []byte("BBBB"))

	s.Add(p1)
	s.Add(p2)
	require.Equal(t, 2, s.Len())

	min, ok := s.Min()
	require.True(t, ok)
	require.Equal(t, uint32(0), min.Header.Seq)

	removed := s.RemoveCovered(4)
	require.Len(t, removed, 1)
	require.Equal(t, uint32(0), removed[0].Header.Seq)
	require.Equal(t, 1, s.Len())

	min, ok = s.Min()
	require.True(t, ok)
	require.Equal(t, uint32(4), min.Header.Seq)
}

func TestControlQueueFIFO(t *testing.T) {
	var q ControlQueue
	p1 := packet.New(packet.Header{Flags: packet.FlagSYN}, nil)
	p2 := packet.New(packet.Header{Flags: packet.FlagACK}, nil)
	q.Push(p1)
	q.Push(p2)

	require.Same(t, p1, q.Pop())
	require.Same(t, p2, q.Pop())
	require.Nil(t, q.Pop())
}
