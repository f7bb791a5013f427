package packet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{
		SrcIP:    netip.MustParseAddr("10.0.0.1"),
		DstIP:    netip.MustParseAddr("10.0.0.2"),
		SrcPort:  9000,
		DstPort:  9001,
		Protocol: ProtocolTCP,
		Flags:    FlagSYN,
		Seq:      42,
		Window:   65535,
	}
}

func TestRefcountLifecycle(t *testing.T) {
	p := New(testHeader(), []byte("HELLO"))
	require.EqualValues(t, 1, p.RefCount())

	p.Retain()
	require.EqualValues(t, 2, p.RefCount())

	require.False(t, p.Release())
	require.EqualValues(t, 1, p.RefCount())

	require.True(t, p.Release())
	require.EqualValues(t, 0, p.RefCount())
}

func TestReleaseUnderflowPanics(t *testing.T) {
	p := New(testHeader(), nil)
	p.Release()
	require.Panics(t, func() { p.Release() })
}

func TestWireRoundTrip(t *testing.T) {
	p := New(testHeader(), []byte("HELLO"))
	wire, err := p.ToWire()
	require.NoError(t, err)

	back, err := FromWire(wire)
	require.NoError(t, err)

	require.Equal(t, p.Header.SrcIP, back.Header.SrcIP)
	require.Equal(t, p.Header.DstIP, back.Header.DstIP)
	require.Equal(t, p.Header.SrcPort, back.Header.SrcPort)
	require.Equal(t, p.Header.DstPort, back.Header.DstPort)
	require.Equal(t, p.Header.Seq, back.Header.Seq)
	require.True(t, back.Header.Flags.Has(FlagSYN))
	require.Equal(t, []byte("HELLO"), back.Payload)
}

func TestEndSeq(t *testing.T) {
	p := New(testHeader(), []byte("HELLO"))
	require.EqualValues(t, 47, p.EndSeq())
}
