package tcp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/packet"
)

func ep(addr string, port uint16) Endpoint {
	return Endpoint{Addr: netip.MustParseAddr(addr), Port: port}
}

func TestActiveOpenHandshake(t *testing.T) {
	client := NewConnection(ep("10.0.0.1", 5000), ep("10.0.0.2", 80), Config{})
	out := client.OpenActive()
	require.Len(t, out.Packets, 1)
	require.True(t, out.Packets[0].Header.Flags.Has(packet.FlagSYN))
	require.Equal(t, SynSent, client.State())

	server := NewConnection(ep("10.0.0.2", 80), ep("10.0.0.1", 5000), Config{})
	synAckOut := server.OpenPassiveFromSYN(out.Packets[0])
	require.Len(t, synAckOut.Packets, 1)
	synAck := synAckOut.Packets[0]
	require.True(t, synAck.Header.Flags.Has(packet.FlagSYN))
	require.True(t, synAck.Header.Flags.Has(packet.FlagACK))
	require.Equal(t, SynReceived, server.State())

	clientOut := client.Receive(synAck)
	require.Equal(t, Established, client.State())
	require.Len(t, clientOut.Packets, 1, "final ACK of the handshake")

	serverOut := server.Receive(clientOut.Packets[0])
	require.Equal(t, Established, server.State())
	require.Empty(t, serverOut.Packets)
}

func establishedPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	client := NewConnection(ep("10.0.0.1", 5000), ep("10.0.0.2", 80), Config{})
	server := NewConnection(ep("10.0.0.2", 80), ep("10.0.0.1", 5000), Config{})

	synOut := client.OpenActive()
	synAckOut := server.OpenPassiveFromSYN(synOut.Packets[0])
	ackOut := client.Receive(synAckOut.Packets[0])
	server.Receive(ackOut.Packets[0])

	require.Equal(t, Established, client.State())
	require.Equal(t, Established, server.State())
	return client, server
}

func TestDataTransferAndDelayedACK(t *testing.T) {
	client, server := establishedPair(t)

	n, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	out := client.Transmit()
	require.Len(t, out.Packets, 1)
	seg := out.Packets[0]
	require.Equal(t, []byte("hello"), seg.Payload)

	serverOut := server.Receive(seg)
	require.Empty(t, serverOut.Packets, "first in-order segment only arms the delayed-ACK timer")
	require.Len(t, serverOut.Timers, 1)
	require.Equal(t, TimerDelayedACK, serverOut.Timers[0].Kind)

	buf := make([]byte, 16)
	n, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	ackOut := server.DelayedACKTimerFired()
	require.Len(t, ackOut.Packets, 1)
	require.True(t, ackOut.Packets[0].Header.Flags.Has(packet.FlagACK))

	clientOut := client.Receive(ackOut.Packets[0])
	require.Empty(t, clientOut.Packets)
}

func TestFastRetransmitOnTripleDupAck(t *testing.T) {
	client, _ := establishedPair(t)
	client.Write([]byte("abcdef"))
	out := client.Transmit()
	require.Len(t, out.Packets, 1)
	seg := out.Packets[0]

	dupAck := client.buildSegment(packet.FlagACK, client.sndNXT, client.sndUNA, nil)

	client.Receive(dupAck)
	client.Receive(dupAck)
	result := client.Receive(dupAck)

	require.NotEmpty(t, result.Packets, "third duplicate ACK triggers fast retransmit")
	require.Equal(t, seg.Header.Seq, result.Packets[0].Header.Seq)
}

func TestRetransmitTimerResendsAndBacksOff(t *testing.T) {
	client := NewConnection(ep("10.0.0.1", 5000), ep("10.0.0.2", 80), Config{})
	client.OpenActive()

	first := client.RetransmitTimerFired()
	require.NotEmpty(t, first.Packets)

	second := client.RetransmitTimerFired()
	require.NotEmpty(t, second.Packets)
	require.Greater(t, second.Timers[0].Delay, first.Timers[0].Delay, "RTO must back off on successive retransmits")
}

func TestActiveCloseAndTimeWait(t *testing.T) {
	client, server := establishedPair(t)

	closeOut := client.Close()
	require.Len(t, closeOut.Packets, 1)
	require.True(t, closeOut.Packets[0].Header.Flags.Has(packet.FlagFIN))
	require.Equal(t, FinWait1, client.State())

	finAckOut := server.Receive(closeOut.Packets[0])
	require.Equal(t, CloseWait, server.State())
	require.Len(t, finAckOut.Packets, 1)

	client.Receive(finAckOut.Packets[0])
	require.Equal(t, FinWait2, client.State())

	serverFinOut := server.Close()
	require.Equal(t, LastAck, server.State())

	clientFinal := client.Receive(serverFinOut.Packets[0])
	require.Equal(t, TimeWait, client.State())
	require.Len(t, clientFinal.Timers, 1)
	require.Equal(t, TimerClose, clientFinal.Timers[0].Kind)

	torn := client.CloseTimerFired()
	require.True(t, torn.Torn)
	require.Equal(t, Closed, client.State())
}

func TestWriteAfterShutdownReturnsEPIPE(t *testing.T) {
	client, _ := establishedPair(t)

	client.Close()
	require.Equal(t, FinWait1, client.State())

	_, err := client.Write([]byte("late"))
	require.Equal(t, EPIPE, err)
}

func TestResetAbortsConnection(t *testing.T) {
	client, _ := establishedPair(t)
	rst := client.buildSegment(packet.FlagRST, client.sndNXT, 0, nil)
	out := client.Receive(rst)
	require.True(t, out.Reset)
	require.True(t, out.Torn)
	require.Equal(t, Closed, client.State())
}
