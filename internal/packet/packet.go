// Package packet implements Shadow's reference-counted, immutable
// packet record. A packet is produced once by the send or control path
// and then shared by pointer between the retransmit set and in-flight
// link-arrival events without copying;
// reference counting keeps track of when it is finally safe to free.
package packet

import (
	"fmt"
	"net/netip"
	"sync/atomic"
)

// Protocol identifies the payload protocol carried by a packet.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return "UNKNOWN"
	}
}

// Flags are the TCP control bits a packet's header can carry.
type Flags uint8

const (
	FlagSYN Flags = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
	// FlagCON marks a congestion-notification control segment — a
	// zero-payload ack-only packet sent purely to communicate a window
	// or congestion-state update outside the data stream.
	FlagCON
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	var s string
	for _, b := range []struct {
		bit Flags
		c   string
	}{{FlagSYN, "S"}, {FlagACK, "A"}, {FlagFIN, "F"}, {FlagRST, "R"}, {FlagCON, "C"}} {
		if f.Has(b.bit) {
			s += b.c
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// Header carries the addressing and protocol metadata common to every
// packet, plus the TCP-only control fields when Protocol == ProtocolTCP.
type Header struct {
	SrcIP, DstIP     netip.Addr
	SrcPort, DstPort uint16
	Protocol         Protocol
	Length           int

	// TCP-only fields, zero for UDP packets.
	Flags  Flags
	Seq    uint32
	Ack    uint32
	Window uint16
}

// Packet is an immutable, reference-counted network packet. Once
// scheduled it is never mutated; producers and consumers Retain/Release
// symmetrically as it moves between queues.
type Packet struct {
	Header  Header
	Payload []byte

	refcount atomic.Int32
}

// New creates a packet with an initial reference count of 1, as spec'd
// in the packet lifecycle (§4.8 step 1).
func New(hdr Header, payload []byte) *Packet {
	hdr.Length = len(payload)
	p := &Packet{Header: hdr, Payload: payload}
	p.refcount.Store(1)
	return p
}

// Retain increments the reference count. Call this whenever a packet
// is handed off into an additional queue (send-pending, retransmit
// set, an in-flight arrival event) beyond the one that created it.
func (p *Packet) Retain() {
	p.refcount.Add(1)
}

// Release decrements the reference count and reports whether it
// reached zero. The caller owning the last reference is responsible
// for ensuring no further use of p occurs afterward.
func (p *Packet) Release() bool {
	n := p.refcount.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("packet: refcount underflow on %s packet %s:%d->%s:%d seq=%d",
			p.Header.Protocol, p.Header.SrcIP, p.Header.SrcPort, p.Header.DstIP, p.Header.DstPort, p.Header.Seq))
	}
	return n == 0
}

// RefCount returns the current reference count, for invariant checks
// and tests (Testable Property 6: all refcounts reach 0 at simulation end).
func (p *Packet) RefCount() int32 {
	return p.refcount.Load()
}

// EndSeq returns the sequence number one past the last payload byte,
// used by the send/retransmit window bookkeeping.
func (p *Packet) EndSeq() uint32 {
	return p.Header.Seq + uint32(len(p.Payload))
}
