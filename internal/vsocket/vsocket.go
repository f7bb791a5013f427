// Package vsocket implements the virtual socket manager: a per-host
// POSIX-shaped socket API (socket/bind/connect/listen/accept/send/recv/
// close and friends) backed by internal/tcp's connection state machine
// and internal/udp's datagram socket, with descriptors drawn from a
// private numbering space so guest code never collides with the host
// process's own file descriptors.
package vsocket

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/bitset"
	"github.com/shadow-sim/shadow/internal/epoll"
	"github.com/shadow-sim/shadow/internal/packet"
	"github.com/shadow-sim/shadow/internal/tcp"
	"github.com/shadow-sim/shadow/internal/udp"
)

// MinDescriptor is the first descriptor value handed out; every value
// below it is reserved, matching spec.md §4.5's recommendation to start
// numbering well above stdin/stdout/stderr and any descriptor a guest
// might assume is "special".
const MinDescriptor = 1000

// Domain mirrors socket(2)'s address family argument. Only IPv4 is
// modeled.
type Domain int

const (
	AFInet Domain = iota
)

// SockType mirrors socket(2)'s type argument.
type SockType int

const (
	SockStream SockType = iota
	SockDgram
)

type kind int

const (
	kindTCP kind = iota
	kindUDP
	kindListener
)

// Socket is one entry in a Manager's descriptor table.
type Socket struct {
	fd          int
	kind        kind
	nonBlocking bool
	reuseAddr   bool

	conn     *tcp.Connection
	dgram    *udp.Socket
	listener *listener
}

// Manager owns one host's descriptor table. It is not safe for
// concurrent use — the simulation model guarantees a host is executed
// by at most one worker at a time, so no internal locking is needed.
type Manager struct {
	next    int
	sockets map[int]*Socket

	// boundTCP tracks every bound local TCP endpoint (listeners and
	// connected sockets alike) to reject duplicate binds with
	// EADDRINUSE, mirroring SO_REUSEADDR's default-off behavior.
	boundTCP map[tcp.Endpoint]int

	readable, writable *bitset.TinyBitset
	epollInstances      []*epoll.Instance
}

// NewManager returns an empty socket table for one host.
func NewManager() *Manager {
	return &Manager{
		sockets:  make(map[int]*Socket),
		boundTCP: make(map[tcp.Endpoint]int),
		readable: &bitset.TinyBitset{},
		writable: &bitset.TinyBitset{},
	}
}

// NewEpollInstance returns a fresh epoll instance sharing this
// manager's readiness bitmaps.
func (m *Manager) NewEpollInstance() *epoll.Instance {
	inst := epoll.NewInstance(m.readable, m.writable, MinDescriptor)
	m.epollInstances = append(m.epollInstances, inst)
	return inst
}

func (m *Manager) allocFD() int {
	fd := MinDescriptor + m.next
	m.next++
	return fd
}

func (m *Manager) setReadiness(fd int, readable, writable bool) {
	idx := uint32(fd - MinDescriptor)
	if readable {
		m.readable.Insert(idx)
	} else {
		m.readable.Remove(idx)
	}
	if writable {
		m.writable.Insert(idx)
	} else {
		m.writable.Remove(idx)
	}
}

// Socket implements socket(2): it allocates a descriptor without
// binding or connecting it.
func (m *Manager) Socket(domain Domain, typ SockType) (int, error) {
	fd := m.allocFD()
	s := &Socket{fd: fd}
	switch typ {
	case SockStream:
		s.kind = kindTCP
	case SockDgram:
		s.kind = kindUDP
		s.dgram = udp.NewSocket()
	default:
		return 0, fmt.Errorf("vsocket: unsupported socket type %d", typ)
	}
	m.sockets[fd] = s
	return fd, nil
}

// SocketPair implements socketpair(2) only as far as allocating two
// sockets of the given type. The two descriptors are not connected to
// each other: no in-memory pipe links them, and data sent on one does
// not reach the other.
func (m *Manager) SocketPair(typ SockType) (int, int, error) {
	a, err := m.Socket(AFInet, typ)
	if err != nil {
		return 0, 0, err
	}
	b, err := m.Socket(AFInet, typ)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (m *Manager) lookup(fd int) (*Socket, error) {
	s, ok := m.sockets[fd]
	if !ok {
		return nil, tcp.EBADF
	}
	return s, nil
}

// Bind implements bind(2).
func (m *Manager) Bind(fd int, local tcp.Endpoint) error {
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}
	if s.kind == kindTCP || s.kind == kindListener {
		if _, taken := m.boundTCP[local]; taken {
			return tcp.EADDRINUSE
		}
		m.boundTCP[local] = fd
	}
	if s.kind == kindUDP {
		s.dgram.Bind(local)
	} else if s.conn == nil {
		s.conn = tcp.NewConnection(local, tcp.Endpoint{}, tcp.Config{})
	}
	return nil
}

func (m *Manager) localOf(s *Socket) tcp.Endpoint {
	switch s.kind {
	case kindUDP:
		return s.dgram.Local
	case kindListener:
		return s.listener.local
	default:
		if s.conn != nil {
			return s.conn.Local
		}
	}
	return tcp.Endpoint{}
}

// Listen implements listen(2), turning a bound TCP socket into a
// passive listener with the given backlog.
func (m *Manager) Listen(fd int, backlog int) error {
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}
	if s.kind != kindTCP {
		return fmt.Errorf("vsocket: listen on non-stream socket")
	}
	local := m.localOf(s)
	s.kind = kindListener
	s.listener = newListener(local, backlog)
	s.conn = nil
	return nil
}

// Connect implements connect(2) for TCP: it starts the active-open
// handshake and returns EINPROGRESS for non-blocking sockets (the
// caller learns completion via a later writable readiness event, same
// as real non-blocking connect()).
func (m *Manager) Connect(fd int, remote tcp.Endpoint) ([]*tcp.Connection, tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return nil, tcp.Outcome{}, err
	}
	if s.kind != kindTCP {
		return nil, tcp.Outcome{}, fmt.Errorf("vsocket: connect on non-stream socket")
	}
	if s.conn == nil {
		s.conn = tcp.NewConnection(tcp.Endpoint{}, remote, tcp.Config{})
	}
	s.conn.Remote = remote
	out := s.conn.OpenActive()
	if s.nonBlocking {
		return nil, out, tcp.EINPROGRESS
	}
	return nil, out, nil
}

// SendConnected implements send(2) for a UDP socket that has called
// connect() to pin a default peer.
func (m *Manager) SendConnected(fd int, data []byte) (int, *packet.Packet, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return 0, nil, err
	}
	if s.kind != kindUDP || !s.dgram.Connected() {
		return 0, nil, tcp.ENOTCONN
	}
	return len(data), s.dgram.BuildDatagram(s.dgram.Peer(), data), nil
}

// Send implements send(2)/write(2) for a connected TCP socket. Writing
// only buffers the bytes; Send also flushes the sliding window so the
// caller gets back the segments the link model must schedule, matching
// the send path's "append then transmit while window allows" split
// (spec.md §4.6).
func (m *Manager) Send(fd int, data []byte) (int, tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return 0, tcp.Outcome{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return 0, tcp.Outcome{}, tcp.ENOTCONN
	}
	n, werr := s.conn.Write(data)
	out := s.conn.Transmit()
	m.RefreshReadiness(fd)
	if werr == tcp.EWOULDBLOCK && !s.nonBlocking {
		return n, out, nil
	}
	return n, out, werr
}

// Transmit flushes as many buffered bytes as the send/congestion
// window currently allows, used by the driver after any event that may
// have opened the window (an ACK arriving, a retransmit clearing the
// in-flight set) without a fresh guest Send call.
func (m *Manager) Transmit(fd int) (tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Outcome{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return tcp.Outcome{}, tcp.ENOTCONN
	}
	out := s.conn.Transmit()
	m.RefreshReadiness(fd)
	return out, nil
}

// RetransmitTimerFired applies an expired RTO timer to fd's connection.
func (m *Manager) RetransmitTimerFired(fd int) (tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Outcome{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return tcp.Outcome{}, tcp.ENOTCONN
	}
	out := s.conn.RetransmitTimerFired()
	m.RefreshReadiness(fd)
	return out, nil
}

// DelayedACKTimerFired flushes fd's pending cumulative ACK.
func (m *Manager) DelayedACKTimerFired(fd int) (tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Outcome{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return tcp.Outcome{}, tcp.ENOTCONN
	}
	return s.conn.DelayedACKTimerFired(), nil
}

// CloseTimerFired expires fd's TIME-WAIT state.
func (m *Manager) CloseTimerFired(fd int) (tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Outcome{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return tcp.Outcome{}, tcp.ENOTCONN
	}
	out := s.conn.CloseTimerFired()
	m.RefreshReadiness(fd)
	return out, nil
}

// ChildState reports a listening socket's child connection's current
// state, used by the driver to detect the handshake-complete moment
// that should move a child from the incomplete set to the accept queue.
func (m *Manager) ChildState(listenerFD int, remote tcp.Endpoint) (tcp.State, bool) {
	s, ok := m.sockets[listenerFD]
	if !ok || s.kind != kindListener {
		return tcp.Closed, false
	}
	child, ok := s.listener.children[remote]
	if !ok {
		return tcp.Closed, false
	}
	return child.State(), true
}

// DemuxUDP routes one inbound UDP datagram to whichever bound socket
// matches its destination endpoint, returning the descriptor it was
// delivered to, or ok=false if no socket is bound there.
func (m *Manager) DemuxUDP(p *packet.Packet) (fd int, ok bool) {
	local := tcp.Endpoint{Addr: p.Header.DstIP, Port: p.Header.DstPort}
	remote := tcp.Endpoint{Addr: p.Header.SrcIP, Port: p.Header.SrcPort}

	for candidateFD, s := range m.sockets {
		if s.kind != kindUDP || s.dgram.Local != local {
			continue
		}
		if s.dgram.Deliver(remote, p.Payload) {
			m.MarkReadable(candidateFD, true)
			return candidateFD, true
		}
	}
	return 0, false
}

// Readiness reports fd's current readable/writable bits.
func (m *Manager) Readiness(fd int) (readable, writable bool) {
	idx := uint32(fd - MinDescriptor)
	return m.readable.Contains(idx), m.writable.Contains(idx)
}

// Recv implements recv(2)/read(2) for a connected TCP socket.
func (m *Manager) Recv(fd int, buf []byte) (int, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return 0, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return 0, tcp.ENOTCONN
	}
	return s.conn.Read(buf)
}

// SendTo implements sendto(2) for a UDP socket, returning the wire
// packet for the driver to hand to the link model.
func (m *Manager) SendTo(fd int, dst tcp.Endpoint, data []byte) (int, *packet.Packet, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return 0, nil, err
	}
	if s.kind != kindUDP {
		return 0, nil, fmt.Errorf("vsocket: sendto on non-datagram socket")
	}
	return len(data), s.dgram.BuildDatagram(dst, data), nil
}

// RecvFrom implements recvfrom(2) for a UDP socket.
func (m *Manager) RecvFrom(fd int) (udp.Datagram, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return udp.Datagram{}, err
	}
	if s.kind != kindUDP {
		return udp.Datagram{}, fmt.Errorf("vsocket: recvfrom on non-datagram socket")
	}
	d, ok := s.dgram.RecvFrom()
	if !ok {
		return udp.Datagram{}, tcp.EWOULDBLOCK
	}
	return d, nil
}

// Shutdown implements shutdown(2).
func (m *Manager) Shutdown(fd int, how tcp.ShutdownHow) (tcp.Outcome, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Outcome{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return tcp.Outcome{}, tcp.ENOTCONN
	}
	if how == tcp.ShutRD {
		return tcp.Outcome{}, nil
	}
	return s.conn.Close(), nil
}

// Close implements close(2), releasing the descriptor and any bound
// address immediately; for TCP this does not itself send a FIN —
// guests are expected to call Shutdown first, matching the common
// close()-after-shutdown() idiom.
func (m *Manager) Close(fd int) error {
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}
	local := m.localOf(s)
	if !local.IsZero() {
		delete(m.boundTCP, local)
	}
	delete(m.sockets, fd)
	idx := uint32(fd - MinDescriptor)
	m.readable.Remove(idx)
	m.writable.Remove(idx)
	return nil
}

// GetSockName implements getsockname(2).
func (m *Manager) GetSockName(fd int) (tcp.Endpoint, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Endpoint{}, err
	}
	return m.localOf(s), nil
}

// GetPeerName implements getpeername(2).
func (m *Manager) GetPeerName(fd int) (tcp.Endpoint, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return tcp.Endpoint{}, err
	}
	if s.kind != kindTCP || s.conn == nil {
		return tcp.Endpoint{}, tcp.ENOTCONN
	}
	return s.conn.Remote, nil
}

// SockOpt is the tiny subset of setsockopt/getsockopt options the
// simulated guests need.
type SockOpt int

const (
	OptNonBlocking SockOpt = iota
	OptReuseAddr
)

// SetSockOpt implements setsockopt(2).
func (m *Manager) SetSockOpt(fd int, opt SockOpt, value bool) error {
	s, err := m.lookup(fd)
	if err != nil {
		return err
	}
	switch opt {
	case OptNonBlocking:
		s.nonBlocking = value
	case OptReuseAddr:
		s.reuseAddr = value
	}
	return nil
}

// GetSockOpt implements getsockopt(2).
func (m *Manager) GetSockOpt(fd int, opt SockOpt) (bool, error) {
	s, err := m.lookup(fd)
	if err != nil {
		return false, err
	}
	switch opt {
	case OptNonBlocking:
		return s.nonBlocking, nil
	case OptReuseAddr:
		return s.reuseAddr, nil
	}
	return false, nil
}

// MarkReadable updates fd's readiness and the epoll-visible bitmap to
// match; called by the TCP/UDP driver after any state change.
func (m *Manager) MarkReadable(fd int, v bool) {
	idx := uint32(fd - MinDescriptor)
	if v {
		m.readable.Insert(idx)
	} else {
		m.readable.Remove(idx)
	}
}

// MarkWritable updates fd's writability bit.
func (m *Manager) MarkWritable(fd int, v bool) {
	idx := uint32(fd - MinDescriptor)
	if v {
		m.writable.Insert(idx)
	} else {
		m.writable.Remove(idx)
	}
}

// RefreshReadiness recomputes readable/writable for fd from the
// underlying connection or datagram socket's own notion of readiness.
func (m *Manager) RefreshReadiness(fd int) {
	s, ok := m.sockets[fd]
	if !ok {
		return
	}
	switch s.kind {
	case kindTCP:
		if s.conn != nil {
			m.MarkReadable(fd, s.conn.Readable())
			m.MarkWritable(fd, s.conn.Writable())
		}
	case kindUDP:
		m.MarkReadable(fd, s.dgram.Readable())
		m.MarkWritable(fd, s.dgram.Writable())
	case kindListener:
		m.MarkReadable(fd, s.listener.hasPending())
	}
}
