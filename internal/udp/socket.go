// Package udp implements the connectionless datagram path: per-datagram
// delivery with no handshake, retransmission, or congestion control,
// plus the optional "connected" UDP mode (connect() pins a default
// peer so send/recv can be used instead of sendto/recvfrom).
package udp

import (
	"github.com/shadow-sim/shadow/internal/packet"
	"github.com/shadow-sim/shadow/internal/tcp"
)

// Datagram is one received UDP payload together with its sender, the
// unit a guest's recvfrom() call hands back.
type Datagram struct {
	From    tcp.Endpoint
	Payload []byte
}

// Socket is a UDP endpoint. It holds no congestion or sequencing
// state — only an inbound datagram queue and an optional default peer.
type Socket struct {
	Local tcp.Endpoint
	peer  tcp.Endpoint
	bound bool

	inbox []Datagram
	// maxQueued bounds how many undelivered datagrams the socket will
	// hold before silently dropping further arrivals, mirroring a real
	// kernel socket receive buffer.
	maxQueued int
}

const defaultMaxQueued = 256

// NewSocket returns an unbound UDP socket.
func NewSocket() *Socket {
	return &Socket{maxQueued: defaultMaxQueued}
}

// Bind fixes the socket's local endpoint.
func (s *Socket) Bind(local tcp.Endpoint) {
	s.Local = local
	s.bound = true
}

// Connect pins a default peer for subsequent Send/Recv calls. Unlike
// TCP, this performs no handshake — it only filters delivery and lets
// the guest use send()/recv() instead of sendto()/recvfrom().
func (s *Socket) Connect(peer tcp.Endpoint) {
	s.peer = peer
}

// Peer returns the socket's default peer set by Connect, the zero
// Endpoint if none was set.
func (s *Socket) Peer() tcp.Endpoint {
	return s.peer
}

// Connected reports whether a default peer has been set.
func (s *Socket) Connected() bool {
	return s.peer.Addr.IsValid() || s.peer.Port != 0
}

// Deliver enqueues an inbound datagram, dropping it if the socket's
// default peer doesn't match (when connected) or the queue is full.
func (s *Socket) Deliver(from tcp.Endpoint, payload []byte) bool {
	if s.Connected() && from != s.peer {
		return false
	}
	if len(s.inbox) >= s.maxQueued {
		return false
	}
	cp := append([]byte(nil), payload...)
	s.inbox = append(s.inbox, Datagram{From: from, Payload: cp})
	return true
}

// RecvFrom dequeues the oldest pending datagram.
func (s *Socket) RecvFrom() (Datagram, bool) {
	if len(s.inbox) == 0 {
		return Datagram{}, false
	}
	d := s.inbox[0]
	s.inbox = s.inbox[1:]
	return d, true
}

// Recv dequeues the oldest datagram's payload only, valid for a
// connected socket.
func (s *Socket) Recv() ([]byte, bool) {
	d, ok := s.RecvFrom()
	if !ok {
		return nil, false
	}
	return d.Payload, true
}

// Readable reports whether RecvFrom would return a datagram.
func (s *Socket) Readable() bool {
	return len(s.inbox) > 0
}

// Writable is always true for UDP: sendto never blocks on a window,
// only on the link/loss model applied downstream.
func (s *Socket) Writable() bool { return true }

// BuildDatagram constructs the wire packet for an outgoing send/sendto
// call; the caller is responsible for handing it to the link model.
func (s *Socket) BuildDatagram(dst tcp.Endpoint, payload []byte) *packet.Packet {
	hdr := packet.Header{
		SrcIP:    s.Local.Addr,
		DstIP:    dst.Addr,
		SrcPort:  s.Local.Port,
		DstPort:  dst.Port,
		Protocol: packet.ProtocolUDP,
		Length:   len(payload),
	}
	return packet.New(hdr, payload)
}
