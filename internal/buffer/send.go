package buffer

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/packet"
)

// SendBuffer is a connection's send-side buffer: the raw bytes an
// application has written but the TCP sender has not yet segmented
// into packets, bounded by capacity.
type SendBuffer struct {
	capacity int
	data     []byte
}

// NewSendBuffer returns an empty SendBuffer with the given capacity.
func NewSendBuffer(capacity int) *SendBuffer {
	return &SendBuffer{capacity: capacity}
}

// Write appends as much of data as fits under capacity and reports how
// many bytes were accepted. Callers must translate n < len(data) into
// WOULDBLOCK for a non-blocking guest socket (spec.md §4.6 step 1).
func (b *SendBuffer) Write(data []byte) (n int) {
	room := b.capacity - len(b.data)
	if room <= 0 {
		return 0
	}
	if len(data) > room {
		data = data[:room]
	}
	b.data = append(b.data, data...)
	return len(data)
}

// Unsent returns the bytes not yet consumed by Consume.
func (b *SendBuffer) Unsent() []byte {
	return b.data
}

// Consume removes the first n bytes (now segmented into an outgoing
// packet) from the unsent queue.
func (b *SendBuffer) Consume(n int) {
	if n > len(b.data) {
		panic(fmt.Sprintf("buffer: consume %d exceeds unsent length %d", n, len(b.data)))
	}
	b.data = b.data[n:]
}

// Len returns the number of unsent bytes still buffered.
func (b *SendBuffer) Len() int { return len(b.data) }

// Available reports how much capacity remains for further Write calls.
func (b *SendBuffer) Available() int { return b.capacity - len(b.data) }

// SeqLen is the retransmit set's key: a segment identified by its
// starting sequence number and length (spec.md §3).
type SeqLen struct {
	Seq uint32
	Len int
}

// RetransmitSet holds clones of every outstanding, unacknowledged
// segment, keyed by (sequence, length), retaining a reference on each
// packet for as long as it might need to be resent.
type RetransmitSet struct {
	segments map[SeqLen]*packet.Packet
	// No ordering is kept; callers that need the lowest-sequence
	// segment call Min, which scans in O(n) — retransmit sets are small
	// (bounded by the window).
}

// NewRetransmitSet returns an empty retransmit set.
func NewRetransmitSet() *RetransmitSet {
	return &RetransmitSet{segments: make(map[SeqLen]*packet.Packet)}
}

// Add places p into the retransmit set, retaining a reference
// (spec.md §4.8 step 3). The caller must already hold a reference for
// the send-pending window; Add takes its own independent reference.
func (s *RetransmitSet) Add(p *packet.Packet) {
	key := SeqLen{Seq: p.Header.Seq, Len: len(p.Payload)}
	p.Retain()
	s.segments[key] = p
}

// Len reports how many segments are outstanding.
func (s *RetransmitSet) Len() int { return len(s.segments) }

// Empty reports whether the retransmit set has no outstanding segments.
func (s *RetransmitSet) Empty() bool { return len(s.segments) == 0 }

// RemoveCovered removes and releases every segment whose end sequence
// is at or before ack (spec.md §4.6 ACK processing), returning the
// packets removed so the caller can cancel/rearm timers accordingly.
func (s *RetransmitSet) RemoveCovered(ack uint32) []*packet.Packet {
	var removed []*packet.Packet
	for key, p := range s.segments {
		if seqLE(key.Seq+uint32(key.Len), ack) {
			removed = append(removed, p)
			delete(s.segments, key)
		}
	}
	return removed
}

// Min returns the segment with the lowest starting sequence number
// still outstanding, used by RTO expiry and fast retransmit
// (spec.md §4.6). Reports false if the set is empty.
func (s *RetransmitSet) Min() (*packet.Packet, bool) {
	var best *packet.Packet
	var bestSeq uint32
	first := true
	for key, p := range s.segments {
		if first || seqLT(key.Seq, bestSeq) {
			best, bestSeq, first = p, key.Seq, false
		}
	}
	return best, !first
}

// seqLT/seqLE compare sequence numbers with 32-bit wraparound
// semantics, matching TCP's modular sequence-space comparisons.
func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }

// ControlQueue holds zero-payload control segments (pure SYN/ACK/FIN/RST)
// waiting to be handed to the link model, kept separate from data
// segments per spec.md §3.
type ControlQueue struct {
	items []*packet.Packet
}

// Push enqueues a control packet.
func (q *ControlQueue) Push(p *packet.Packet) {
	q.items = append(q.items, p)
}

// Pop dequeues the oldest control packet, or nil if empty.
func (q *ControlQueue) Pop() *packet.Packet {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

// Len reports the number of queued control packets.
func (q *ControlQueue) Len() int { return len(q.items) }
