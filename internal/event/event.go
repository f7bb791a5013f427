// Package event implements Shadow's polymorphic event record and the
// ordering/priority-queue machinery that the engine and hosts use to
// schedule and dispatch them. The engine never inspects a payload;
// only the dispatch code owned by the host/worker layer does that, via
// a type switch on Kind.
package event

import (
	"container/heap"

	"github.com/shadow-sim/shadow/internal/simtime"
)

// Kind identifies which variant payload an Event carries.
type Kind int

const (
	// KindPacketArrived signals a packet has crossed a link and is now
	// landing at the destination host's network ingress.
	KindPacketArrived Kind = iota
	// KindPacketReceived signals a packet has been handed off to its
	// destination socket's protocol handler.
	KindPacketReceived
	// KindStartApplication runs a bootstrap application start action.
	KindStartApplication
	// KindSocketActivated wakes a socket's guest-visible readiness.
	KindSocketActivated
	// KindSocketPollTimerExpired drives the guest epoll-poll cadence.
	KindSocketPollTimerExpired
	// KindTCPRetransmitTimerExpired fires the TCP RTO.
	KindTCPRetransmitTimerExpired
	// KindTCPCloseTimerExpired fires TIME-WAIT expiry.
	KindTCPCloseTimerExpired
	// KindTCPDelayedACKTimerExpired flushes a pending cumulative ACK.
	KindTCPDelayedACKTimerExpired
	// KindDeferredCallback runs a plug-in-scheduled callback.
	KindDeferredCallback
	// KindStopApplication tears down one host's running application
	// instance without affecting the rest of the simulation — the host
	// keeps draining its queue afterward (packets, timers, mail from
	// peers) exactly like any other host that never ran an application.
	KindStopApplication
	// KindKillEngine tells a worker to unwind and stop. This is an
	// engine-wide action, distinct from a single application's stop
	// time; nothing about one host finishing early should ever be
	// expressed with it.
	KindKillEngine
)

// CancelToken is a flag shared between a scheduled timer Event and
// whoever holds the right to cancel it. Timers are never removed from
// queues out-of-band; cancellation just flips this flag so the handler
// is a no-op when the event eventually fires.
type CancelToken struct {
	cancelled bool
}

// Cancel marks the token cancelled. Safe to call multiple times.
func (c *CancelToken) Cancel() {
	if c != nil {
		c.cancelled = true
	}
}

// Cancelled reports whether Cancel was called.
func (c *CancelToken) Cancelled() bool {
	return c != nil && c.cancelled
}

// Event is a single scheduled occurrence: a dispatch time, the host
// that owns it, a variant tag, and an opaque variant payload.
type Event struct {
	Time    simtime.Time
	HostID  uint64
	Kind    Kind
	Payload any

	// seq is the monotonic tie-breaker assigned at scheduling time;
	// it is the final ordering key after (Time, HostID).
	seq uint64
	// index is maintained by the heap implementation.
	index int
}

// Seq returns the monotonic insertion counter used as the final
// ordering tie-break.
func (e *Event) Seq() uint64 { return e.seq }

// Assign draws e's ordering tie-breaker from c. Callers must do this
// exactly once per event, at scheduling time, before the event is
// pushed onto any Queue or mailed across hosts.
func (e *Event) Assign(c *Counter) {
	e.seq = c.Next()
}

// Less reports whether e sorts before o under the spec's ordering key
// (time, owner-id, monotonic tie-breaker).
func (e *Event) Less(o *Event) bool {
	if e.Time != o.Time {
		return e.Time < o.Time
	}
	if e.HostID != o.HostID {
		return e.HostID < o.HostID
	}
	return e.seq < o.seq
}

// Counter hands out monotonically increasing sequence numbers used to
// break ties between equal-time, equal-host events. A Counter has no
// locking of its own: each host owns one Counter that numbers both its
// locally scheduled and its mailed events, and serializes access to it
// with the host's mutex.
type Counter struct {
	next uint64
}

// Next returns the next sequence number.
func (c *Counter) Next() uint64 {
	v := c.next
	c.next++
	return v
}

// Queue is a strictly-ordered priority queue of events, owned
// exclusively by the worker currently running the host it belongs to.
type Queue struct {
	h eventHeap
}

// NewQueue returns an empty event queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts ev into the queue.
func (q *Queue) Push(ev *Event) {
	heap.Push(&q.h, ev)
}

// Len returns the number of events currently queued.
func (q *Queue) Len() int {
	return q.h.Len()
}

// Peek returns the earliest-ordered event without removing it, or nil
// if the queue is empty.
func (q *Queue) Peek() *Event {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the earliest-ordered event, or nil if the
// queue is empty.
func (q *Queue) Pop() *Event {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Event)
}

// PopBefore pops and returns the earliest event if its time is
// less-than-or-equal to barrier, otherwise returns nil and leaves the
// queue untouched.
func (q *Queue) PopBefore(barrier simtime.Time) *Event {
	top := q.Peek()
	if top == nil || top.Time > barrier {
		return nil
	}
	return q.Pop()
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	return h[i].Less(h[j])
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}
