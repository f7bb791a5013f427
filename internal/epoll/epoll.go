// Package epoll virtualizes epoll_create/epoll_ctl/epoll_wait for
// guest code. Readiness is driven synchronously by the kernel's event
// schedule (socket state transitions), never by blocking — epoll_wait
// always returns the currently-ready set immediately, and the guest's
// event loop is expected to spin through the kernel-driven schedule.
package epoll

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/bitset"
)

// Event is the guest-visible readiness mask for one descriptor,
// mirroring POSIX's EPOLLIN/EPOLLOUT bits closely enough for a guest
// event loop written against real epoll semantics to work unmodified.
type Event uint32

const (
	In Event = 1 << iota
	Out
	// Edge marks a registration edge-triggered rather than level-triggered.
	Edge
)

// watch is one registered interest: which descriptor, which events the
// guest asked about, and whether it is edge-triggered.
type watch struct {
	fd     int
	events Event
	edge   bool
	// reported tracks, for edge-triggered watches, which bits have
	// already been reported once since they last went from not-ready
	// to ready, so a level-triggered re-check is not fired again until
	// the state flaps back to not-ready.
	reported Event
}

// Instance is one guest epoll instance (the object an epoll_create
// call hands back an fd for). A host may run several instances, one
// per application event loop.
type Instance struct {
	watches map[int]*watch
	// readable/writable are the host-wide readiness bitmaps, indexed by
	// descriptor offset from vsocket.MinDescriptor, shared by every
	// Instance on the host since readiness is a property of the socket,
	// not of the instance watching it.
	readable, writable *bitset.TinyBitset
	base               int
}

// NewInstance returns an empty epoll instance sharing the host's
// readiness bitmaps. base is the host's MIN_DESCRIPTOR, used to map
// socket descriptors onto small bitset indices.
func NewInstance(readable, writable *bitset.TinyBitset, base int) *Instance {
	return &Instance{
		watches:  make(map[int]*watch),
		readable: readable,
		writable: writable,
		base:     base,
	}
}

// Ctl implements epoll_ctl's ADD/MOD/DEL operations.
type CtlOp int

const (
	CtlAdd CtlOp = iota
	CtlMod
	CtlDel
)

// Ctl registers, updates, or removes interest in fd.
func (e *Instance) Ctl(op CtlOp, fd int, events Event) error {
	switch op {
	case CtlAdd:
		if _, exists := e.watches[fd]; exists {
			return fmt.Errorf("epoll: fd %d already registered", fd)
		}
		e.watches[fd] = &watch{fd: fd, events: events, edge: events&Edge != 0}
	case CtlMod:
		w, exists := e.watches[fd]
		if !exists {
			return fmt.Errorf("epoll: fd %d not registered", fd)
		}
		w.events = events
		w.edge = events&Edge != 0
		w.reported = 0
	case CtlDel:
		delete(e.watches, fd)
	default:
		return fmt.Errorf("epoll: unknown op %d", op)
	}
	return nil
}

// Ready is one entry of an epoll_wait result: a descriptor and which
// of its requested events are currently asserted.
type Ready struct {
	FD     int
	Events Event
}

// Wait returns the currently-ready set synchronously; it never blocks.
// For edge-triggered watches, a bit is reported at most once per
// not-ready-to-ready transition.
func (e *Instance) Wait() []Ready {
	var out []Ready

	for fd, w := range e.watches {
		idx := uint32(fd - e.base)

		var cur Event
		if w.events&In != 0 && e.readable.Contains(idx) {
			cur |= In
		}
		if w.events&Out != 0 && e.writable.Contains(idx) {
			cur |= Out
		}

		if cur == 0 {
			w.reported = 0
			continue
		}

		if w.edge {
			toReport := cur &^ w.reported
			if toReport == 0 {
				continue
			}
			w.reported |= toReport
			out = append(out, Ready{FD: fd, Events: toReport})
		} else {
			out = append(out, Ready{FD: fd, Events: cur})
		}
	}

	return out
}

// SetReadable marks fd's readability bit, called by the TCP/UDP/buffer
// layer on any state transition that can make a socket readable.
func (e *Instance) SetReadable(fd int, v bool) {
	idx := uint32(fd - e.base)
	if v {
		e.readable.Insert(idx)
	} else {
		e.readable.Remove(idx)
	}
}

// SetWritable marks fd's writability bit.
func (e *Instance) SetWritable(fd int, v bool) {
	idx := uint32(fd - e.base)
	if v {
		e.writable.Insert(idx)
	} else {
		e.writable.Remove(idx)
	}
}
