package udp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/tcp"
)

func ep(addr string, port uint16) tcp.Endpoint {
	return tcp.Endpoint{Addr: netip.MustParseAddr(addr), Port: port}
}

func TestRecvFromDeliversInOrder(t *testing.T) {
	s := NewSocket()
	s.Bind(ep("10.0.0.1", 9000))

	require.True(t, s.Deliver(ep("10.0.0.2", 53), []byte("a")))
	require.True(t, s.Deliver(ep("10.0.0.3", 53), []byte("b")))

	d, ok := s.RecvFrom()
	require.True(t, ok)
	require.Equal(t, "a", string(d.Payload))
	require.Equal(t, ep("10.0.0.2", 53), d.From)

	d, ok = s.RecvFrom()
	require.True(t, ok)
	require.Equal(t, "b", string(d.Payload))
}

func TestConnectedSocketFiltersOtherPeers(t *testing.T) {
	s := NewSocket()
	s.Bind(ep("10.0.0.1", 9000))
	s.Connect(ep("10.0.0.2", 53))

	require.False(t, s.Deliver(ep("10.0.0.9", 53), []byte("spoofed")))
	require.True(t, s.Deliver(ep("10.0.0.2", 53), []byte("legit")))

	payload, ok := s.Recv()
	require.True(t, ok)
	require.Equal(t, "legit", string(payload))
}

func TestQueueDropsWhenFull(t *testing.T) {
	s := NewSocket()
	s.maxQueued = 2
	for i := 0; i < 3; i++ {
		s.Deliver(ep("10.0.0.2", 53), []byte{byte(i)})
	}
	require.Len(t, s.inbox, 2)
}

func TestReadableReflectsQueueState(t *testing.T) {
	s := NewSocket()
	require.False(t, s.Readable())
	s.Deliver(ep("10.0.0.2", 53), []byte("x"))
	require.True(t, s.Readable())
}
