// Package host implements the simulated machine: a private event
// queue, a thread-safe mailbox for cross-host messages, and the
// per-host resources (sockets, plug-in instance, address) a worker
// operates on while it holds exclusive access to this host.
package host

import (
	"math/rand/v2"
	"net/netip"
	"sync"

	"github.com/c2h5oh/datasize"

	"github.com/shadow-sim/shadow/internal/epoll"
	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/tcp"
	"github.com/shadow-sim/shadow/internal/topology"
	"github.com/shadow-sim/shadow/internal/vsocket"
)

// Host is one simulated machine. Exactly one worker goroutine may be
// executing a host's events at a time; swapping which worker owns a
// host happens only between rounds, never concurrently, so every field
// except mailbox and seqCounter (both guarded by mu) is safe to touch
// without locking from the owning worker's goroutine.
type Host struct {
	ID       uint64
	Hostname string
	Addr     netip.Addr
	Network  topology.NetworkID

	// BandwidthDown/BandwidthUp bound the serialization term of the
	// link delay formula (spec.md §4.9) for traffic to/from this host.
	BandwidthDown, BandwidthUp datasize.ByteSize
	// CPUSpeed models the host's processing rate as an abstract
	// bytes/second figure used by CPUDelay to charge application-level
	// compute time against the simulation clock (spec.md §4.3's
	// "CPU-delay model").
	CPUSpeed datasize.ByteSize

	Sockets *vsocket.Manager
	Plugin  *plugin.Instance

	// Facade holds the internal/worker-owned plugin.SocketFacade bound
	// to this host, stashed here (typed as any to avoid host importing
	// worker) so later dispatch can refresh its notion of "now" before
	// invoking a plug-in callback.
	Facade any

	// RNG is this host's private random source, seeded deterministically
	// from the run seed and host id (spec.md §5: "global RNG forbidden
	// in hot paths").
	RNG *rand.Rand

	epollInstances map[int]*epoll.Instance
	nextEpollFD    int

	// Local is the worker-private priority queue; only the worker that
	// currently owns this host may touch it.
	Local *event.Queue

	// Killed is set once this host has processed a KindKillEngine event;
	// the worker stops draining its queue once set.
	Killed bool

	// timerTokens tracks the cancellation token currently armed for each
	// (descriptor, timer kind) pair, so arming a replacement timer can
	// cancel the one it supersedes (a TCP connection only ever wants one
	// live RTO/delayed-ACK/TIME-WAIT timer outstanding at a time).
	timerTokens map[int]map[tcp.TimerKind]*event.CancelToken

	mu         sync.Mutex
	mailbox    []*event.Event
	seqCounter event.Counter
}

// New returns a freshly initialized host with an empty event queue. The
// per-host RNG is seeded from (seed, id) so a run's event ordering and
// loss/latency sampling stay deterministic across worker-count choices
// (spec.md §8 property 1), mixed through rand/v2's PCG the way the
// teacher's tests derive deterministic per-entity seeds.
func New(id uint64, hostname string, addr netip.Addr, seed uint64) *Host {
	return &Host{
		ID:             id,
		Hostname:       hostname,
		Addr:           addr,
		Sockets:        vsocket.NewManager(),
		RNG:            rand.New(rand.NewPCG(seed, id)),
		epollInstances: make(map[int]*epoll.Instance),
		Local:          event.NewQueue(),
		timerTokens:    make(map[int]map[tcp.TimerKind]*event.CancelToken),
	}
}

// NewEpollInstance allocates a guest-visible epoll instance, returning
// a handle the guest can later pass back to EpollInstance.
func (h *Host) NewEpollInstance() int {
	fd := h.nextEpollFD
	h.nextEpollFD++
	h.epollInstances[fd] = h.Sockets.NewEpollInstance()
	return fd
}

// EpollInstance resolves a guest epoll handle back to its instance.
func (h *Host) EpollInstance(fd int) (*epoll.Instance, bool) {
	inst, ok := h.epollInstances[fd]
	return inst, ok
}

// Mail pushes an event into this host's thread-safe mailbox. Any
// worker — including the one currently owning a different host — may
// call this to deliver a cross-host event (a packet arriving, a
// deferred callback crossing hosts).
func (h *Host) Mail(ev *event.Event) {
	h.mu.Lock()
	ev.Assign(&h.seqCounter)
	h.mailbox = append(h.mailbox, ev)
	h.mu.Unlock()
}

// ScheduleLocal assigns ev an ordering tie-breaker and pushes it
// directly onto this host's local queue. Only the worker that
// currently owns h may call this; it exists so dispatch code that
// already has its hands on h doesn't have to round-trip a same-host
// event through the mailbox and Router.
func (h *Host) ScheduleLocal(ev *event.Event) {
	h.mu.Lock()
	ev.Assign(&h.seqCounter)
	h.mu.Unlock()
	h.Local.Push(ev)
}

// ArmTimer cancels any timer of the same kind already armed for fd and
// returns a fresh token for the new one, used by the driver when an
// Outcome asks to (re)arm a TCP timer.
func (h *Host) ArmTimer(fd int, kind tcp.TimerKind) *event.CancelToken {
	h.CancelTimer(fd, kind)
	tok := &event.CancelToken{}
	if h.timerTokens[fd] == nil {
		h.timerTokens[fd] = make(map[tcp.TimerKind]*event.CancelToken)
	}
	h.timerTokens[fd][kind] = tok
	return tok
}

// CancelTimer cancels fd's currently armed timer of kind, if any.
func (h *Host) CancelTimer(fd int, kind tcp.TimerKind) {
	byKind, ok := h.timerTokens[fd]
	if !ok {
		return
	}
	if tok, ok := byKind[kind]; ok {
		tok.Cancel()
		delete(byKind, kind)
	}
}

// CPUDelay charges workBytes of abstract compute against this host's
// CPUSpeed, returning how much simulation time it should cost. A zero
// CPUSpeed (the common case for topologies that don't model CPU
// contention) charges no delay.
func (h *Host) CPUDelay(workBytes uint64) (ns uint64) {
	if h.CPUSpeed == 0 {
		return 0
	}
	return workBytes * uint64(1e9) / uint64(h.CPUSpeed.Bytes())
}

// DrainMail moves every pending mailbox event into the local queue.
// Only the worker that currently owns this host may call this, at the
// start of its turn with the host.
func (h *Host) DrainMail() {
	h.mu.Lock()
	pending := h.mailbox
	h.mailbox = nil
	h.mu.Unlock()

	for _, ev := range pending {
		h.Local.Push(ev)
	}
}
