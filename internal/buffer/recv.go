// Package buffer implements the per-connection receive and send buffer
// pairs described in spec.md §3/§4.8: an in-order receive queue with an
// out-of-order set spliced in as gaps close, and a send window backed
// by a retransmit set keyed by (sequence, length).
//
// Buffers are owned by exactly one socket and are never accessed
// concurrently — the host lock (internal/host) guarantees at most one
// worker touches a connection's buffers at a time, so none of the
// types here do their own locking.
package buffer

import "fmt"

// AcceptResult classifies an incoming segment against the buffer's
// current expectation, per the TCP receive path (spec.md §4.6).
type AcceptResult int

const (
	// AcceptInOrder: seq == expected next byte; appended immediately.
	AcceptInOrder AcceptResult = iota
	// AcceptOutOfOrder: seq is ahead of expected; buffered, ACK'd immediately.
	AcceptOutOfOrder
	// AcceptDuplicate: seq is behind expected; dropped, ACK'd immediately.
	AcceptDuplicate
	// AcceptFull: the buffer has no room; caller should treat this like
	// resource exhaustion (no data accepted).
	AcceptFull
)

// RecvBuffer is a connection's receive-side buffer: an in-order FIFO
// consumed by guest reads, plus an out-of-order set keyed by sequence
// number that gets spliced into the FIFO as gaps close.
type RecvBuffer struct {
	capacity int

	inOrder  []byte
	outOfOrd map[uint32][]byte

	// next is the next expected in-order sequence number (rcv_nxt).
	next uint32
}

// NewRecvBuffer returns a RecvBuffer expecting initialSeq as its first
// in-order byte, able to hold up to capacity bytes of in-order data.
func NewRecvBuffer(capacity int, initialSeq uint32) *RecvBuffer {
	return &RecvBuffer{
		capacity: capacity,
		outOfOrd: make(map[uint32][]byte),
		next:     initialSeq,
	}
}

// NextSeq returns the next expected in-order sequence number (rcv_nxt).
func (b *RecvBuffer) NextSeq() uint32 { return b.next }

// Len returns the number of bytes currently ready for a guest read.
func (b *RecvBuffer) Len() int { return len(b.inOrder) }

// Available returns the remaining receive-window capacity
// (rcv_wnd-equivalent) advertised to the peer.
func (b *RecvBuffer) Available() int {
	used := len(b.inOrder)
	for _, seg := range b.outOfOrd {
		used += len(seg)
	}
	avail := b.capacity - used
	if avail < 0 {
		avail = 0
	}
	return avail
}

// Accept classifies and, if possible, buffers an incoming segment.
// After accepting an in-order segment it automatically splices any
// now-contiguous out-of-order segments (spec.md §4.6 step 4).
func (b *RecvBuffer) Accept(seq uint32, payload []byte) AcceptResult {
	switch {
	case seq == b.next:
		if len(payload) > b.Available() {
			return AcceptFull
		}
		b.inOrder = append(b.inOrder, payload...)
		b.next += uint32(len(payload))
		b.spliceContiguous()
		return AcceptInOrder

	case seqLT(b.next, seq):
		if len(payload) > b.Available() {
			return AcceptFull
		}
		if _, exists := b.outOfOrd[seq]; !exists {
			b.outOfOrd[seq] = payload
		}
		return AcceptOutOfOrder

	default:
		return AcceptDuplicate
	}
}

// spliceContiguous moves any out-of-order segments that now directly
// follow b.next into the in-order queue, repeating until no more gaps
// close.
func (b *RecvBuffer) spliceContiguous() {
	for {
		seg, ok := b.outOfOrd[b.next]
		if !ok {
			return
		}
		delete(b.outOfOrd, b.next)
		b.inOrder = append(b.inOrder, seg...)
		b.next += uint32(len(seg))
	}
}

// Read consumes up to len(p) bytes from the in-order queue, returning
// the number of bytes copied. Matches the guest-visible recv() semantics;
// WOULDBLOCK (no bytes ready) is the caller's concern, not this type's.
func (b *RecvBuffer) Read(p []byte) int {
	n := copy(p, b.inOrder)
	b.inOrder = b.inOrder[n:]
	return n
}

// Peek returns the bytes currently ready without consuming them.
func (b *RecvBuffer) Peek() []byte {
	return b.inOrder
}

func (b *RecvBuffer) String() string {
	return fmt.Sprintf("RecvBuffer{next=%d ready=%d outOfOrder=%d}", b.next, len(b.inOrder), len(b.outOfOrd))
}
