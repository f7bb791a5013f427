package vsocket

import (
	"github.com/shadow-sim/shadow/internal/packet"
	"github.com/shadow-sim/shadow/internal/tcp"
)

// listener is a passive TCP socket's server block: the backlog limit,
// the set of connections still completing their handshake (the
// "incomplete SYN set"), the queue of handshake-complete remotes a
// guest drains through accept(2), and the children map of every child
// connection, handshaking or established, keyed by remote endpoint.
type listener struct {
	local   tcp.Endpoint
	backlog int

	// incomplete holds children in SYN-RECEIVED, not yet ACKed by the
	// remote peer's final handshake segment.
	incomplete map[tcp.Endpoint]*tcp.Connection

	// accepted holds children that completed the handshake and are
	// waiting for accept(2) to hand them a descriptor.
	accepted []tcp.Endpoint
	children map[tcp.Endpoint]*tcp.Connection
}

func newListener(local tcp.Endpoint, backlog int) *listener {
	if backlog <= 0 {
		backlog = 16
	}
	return &listener{
		local:      local,
		backlog:    backlog,
		incomplete: make(map[tcp.Endpoint]*tcp.Connection),
		children:   make(map[tcp.Endpoint]*tcp.Connection),
	}
}

func (l *listener) hasPending() bool {
	return len(l.accepted) > 0
}

// full reports whether the incomplete-SYN set has reached the backlog
// limit, in which case new SYNs are silently dropped (spec.md §4.5).
func (l *listener) full() bool {
	return len(l.incomplete) >= l.backlog
}

// DemuxTCP routes one inbound TCP segment to the right socket: an
// established or handshaking connection by (local, remote), or a
// listening socket by local endpoint alone when the segment is a bare
// SYN. It returns the descriptor whose Outcome the caller should apply
// the returned tcp.Outcome to, or 0 with ok=false if the segment must
// be silently dropped (no matching socket, e.g. a stray ACK).
func (m *Manager) DemuxTCP(p *packet.Packet) (fd int, out tcp.Outcome, ok bool) {
	local := tcp.Endpoint{Addr: p.Header.DstIP, Port: p.Header.DstPort}
	remote := tcp.Endpoint{Addr: p.Header.SrcIP, Port: p.Header.SrcPort}

	for candidateFD, s := range m.sockets {
		switch s.kind {
		case kindTCP:
			if s.conn != nil && s.conn.Local == local && s.conn.Remote == remote {
				return candidateFD, s.conn.Receive(p), true
			}
		case kindListener:
			if s.listener.local != local {
				continue
			}
			if child, exists := s.listener.children[remote]; exists {
				return candidateFD, child.Receive(p), true
			}
			if p.Header.Flags.Has(packet.FlagSYN) && !p.Header.Flags.Has(packet.FlagACK) {
				return m.acceptSYN(candidateFD, s, local, remote, p)
			}
		}
	}
	return 0, tcp.Outcome{}, false
}

func (m *Manager) acceptSYN(listenerFD int, s *Socket, local, remote tcp.Endpoint, syn *packet.Packet) (int, tcp.Outcome, bool) {
	if s.listener.full() {
		return 0, tcp.Outcome{}, false
	}
	child := tcp.NewConnection(local, remote, tcp.Config{})
	out := child.OpenPassiveFromSYN(syn)
	s.listener.incomplete[remote] = child
	s.listener.children[remote] = child
	return listenerFD, out, true
}

// PromoteEstablished moves a listener's child from the incomplete set
// into the accept queue once its handshake finishes; the host driver
// calls this after applying a DemuxTCP Outcome whose connection reached
// ESTABLISHED.
func (m *Manager) PromoteEstablished(listenerFD int, remote tcp.Endpoint) {
	s, ok := m.sockets[listenerFD]
	if !ok || s.kind != kindListener {
		return
	}
	if _, pending := s.listener.incomplete[remote]; !pending {
		return
	}
	delete(s.listener.incomplete, remote)
	s.listener.accepted = append(s.listener.accepted, remote)
	m.MarkReadable(listenerFD, true)
}

// Accept implements accept(2): it dequeues one established child and
// hands it a fresh descriptor of its own.
func (m *Manager) Accept(listenerFD int) (int, tcp.Endpoint, error) {
	s, err := m.lookup(listenerFD)
	if err != nil {
		return 0, tcp.Endpoint{}, err
	}
	if s.kind != kindListener {
		return 0, tcp.Endpoint{}, tcp.ENOTCONN
	}
	if len(s.listener.accepted) == 0 {
		return 0, tcp.Endpoint{}, tcp.EWOULDBLOCK
	}
	remote := s.listener.accepted[0]
	s.listener.accepted = s.listener.accepted[1:]
	if len(s.listener.accepted) == 0 {
		m.MarkReadable(listenerFD, false)
	}

	conn := s.listener.children[remote]
	fd := m.allocFD()
	m.sockets[fd] = &Socket{fd: fd, kind: kindTCP, conn: conn}
	return fd, remote, nil
}
