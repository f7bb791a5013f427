package vsocket

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/tcp"
)

func ep(addr string, port uint16) tcp.Endpoint {
	return tcp.Endpoint{Addr: netip.MustParseAddr(addr), Port: port}
}

func TestSocketDescriptorsStartAtMinDescriptor(t *testing.T) {
	m := NewManager()
	fd, err := m.Socket(AFInet, SockStream)
	require.NoError(t, err)
	require.Equal(t, MinDescriptor, fd)

	fd2, err := m.Socket(AFInet, SockDgram)
	require.NoError(t, err)
	require.Equal(t, MinDescriptor+1, fd2)
}

func TestBindDuplicateAddressFails(t *testing.T) {
	m := NewManager()
	a, _ := m.Socket(AFInet, SockStream)
	b, _ := m.Socket(AFInet, SockStream)

	addr := ep("10.0.0.1", 80)
	require.NoError(t, m.Bind(a, addr))
	require.ErrorIs(t, m.Bind(b, addr), tcp.EADDRINUSE)
}

func TestCloseReleasesBoundAddress(t *testing.T) {
	m := NewManager()
	a, _ := m.Socket(AFInet, SockStream)
	addr := ep("10.0.0.1", 80)
	require.NoError(t, m.Bind(a, addr))
	require.NoError(t, m.Close(a))

	b, _ := m.Socket(AFInet, SockStream)
	require.NoError(t, m.Bind(b, addr), "address must be reusable after close")
}

func TestOperationOnBadDescriptorFails(t *testing.T) {
	m := NewManager()
	_, err := m.Recv(9999, make([]byte, 4))
	require.ErrorIs(t, err, tcp.EBADF)
}

func TestListenAndAcceptFullHandshake(t *testing.T) {
	clientMgr := NewManager()
	serverMgr := NewManager()

	serverFD, _ := serverMgr.Socket(AFInet, SockStream)
	serverAddr := ep("10.0.0.2", 80)
	require.NoError(t, serverMgr.Bind(serverFD, serverAddr))
	require.NoError(t, serverMgr.Listen(serverFD, 4))

	clientFD, _ := clientMgr.Socket(AFInet, SockStream)
	require.NoError(t, clientMgr.Bind(clientFD, ep("10.0.0.1", 5000)))

	_, synOut, err := clientMgr.Connect(clientFD, serverAddr)
	require.NoError(t, err)
	require.Len(t, synOut.Packets, 1)

	listenerFD, synAckOut, ok := serverMgr.DemuxTCP(synOut.Packets[0])
	require.True(t, ok)
	require.Equal(t, serverFD, listenerFD)
	require.Len(t, synAckOut.Packets, 1)

	s := clientMgr.sockets[clientFD]
	ackOut := s.conn.Receive(synAckOut.Packets[0])
	require.Equal(t, tcp.Established, s.conn.State())
	require.Len(t, ackOut.Packets, 1)

	_, finalOut, ok := serverMgr.DemuxTCP(ackOut.Packets[0])
	require.True(t, ok)
	require.Empty(t, finalOut.Packets)

	child := serverMgr.sockets[serverFD].listener.children[ep("10.0.0.1", 5000)]
	require.Equal(t, tcp.Established, child.State())
	serverMgr.PromoteEstablished(serverFD, ep("10.0.0.1", 5000))

	childFD, remote, err := serverMgr.Accept(serverFD)
	require.NoError(t, err)
	require.Equal(t, ep("10.0.0.1", 5000), remote)
	require.NotEqual(t, serverFD, childFD)
}

func TestAcceptWithNoPendingConnectionsWouldBlock(t *testing.T) {
	m := NewManager()
	fd, _ := m.Socket(AFInet, SockStream)
	require.NoError(t, m.Bind(fd, ep("10.0.0.1", 80)))
	require.NoError(t, m.Listen(fd, 4))

	_, _, err := m.Accept(fd)
	require.ErrorIs(t, err, tcp.EWOULDBLOCK)
}

func TestSetAndGetSockOpt(t *testing.T) {
	m := NewManager()
	fd, _ := m.Socket(AFInet, SockStream)

	require.NoError(t, m.SetSockOpt(fd, OptNonBlocking, true))
	v, err := m.GetSockOpt(fd, OptNonBlocking)
	require.NoError(t, err)
	require.True(t, v)
}
