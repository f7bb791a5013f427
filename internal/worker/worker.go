// Package worker implements the execution context that drives a
// host's event queue for one barrier round: draining the
// mailbox, popping events up to the round's barrier time, dispatching
// each one against the host's sockets and plug-in instance, and
// turning the TCP/UDP driver's resulting Outcome into freshly scheduled
// events (local timers, or cross-host packet arrivals routed through
// the engine).
package worker

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/packet"
	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/tcp"
)

// Worker is the execution context a host's round runs under. It holds
// no host state of its own — hosts are reassigned between rounds, and
// each host runs in its own goroutine, so several goroutines may share
// one Worker — only the shared Router it dispatches through and an
// identity for logging.
type Worker struct {
	ID     int
	Router Router
}

// New returns a Worker bound to router.
func New(id int, router Router) *Worker {
	return &Worker{ID: id, Router: router}
}

// RunHost drains h's mailbox and dispatches every event whose time is
// at or before barrier, in queue order. It returns the simulation time
// of the earliest event still pending on h afterward (simtime.Invalid
// if the queue emptied), the value the engine uses to compute the next
// round's horizon.
func (w *Worker) RunHost(h *host.Host, barrier simtime.Time) simtime.Time {
	h.DrainMail()

	for !h.Killed {
		ev := h.Local.PopBefore(barrier)
		if ev == nil {
			break
		}
		w.dispatch(h, ev)
	}

	if next := h.Local.Peek(); next != nil {
		return next.Time
	}
	return simtime.Invalid
}

func (w *Worker) dispatch(h *host.Host, ev *event.Event) {
	switch ev.Kind {
	case event.KindPacketArrived:
		w.onPacketArrived(h, ev)
	case event.KindPacketReceived:
		w.onPacketReceived(h, ev)
	case event.KindStartApplication:
		w.onStartApplication(h, ev)
	case event.KindSocketActivated:
		w.onSocketActivated(h, ev)
	case event.KindSocketPollTimerExpired:
		p := ev.Payload.(event.SocketPollTimerExpired)
		w.notifyIfLive(h, ev.Time, p.Cancel, p.SocketFD)
	case event.KindTCPRetransmitTimerExpired:
		p := ev.Payload.(event.TCPRetransmitTimerExpired)
		if p.Cancel.Cancelled() {
			return
		}
		out, err := h.Sockets.RetransmitTimerFired(p.SocketFD)
		if err != nil {
			w.Router.Log().Debugw("retransmit timer on dead socket", "host", h.ID, "fd", p.SocketFD, "err", err)
			return
		}
		w.applyOutcome(h, ev.Time, p.SocketFD, out)
	case event.KindTCPDelayedACKTimerExpired:
		p := ev.Payload.(event.TCPDelayedACKTimerExpired)
		if p.Cancel.Cancelled() {
			return
		}
		out, err := h.Sockets.DelayedACKTimerFired(p.SocketFD)
		if err != nil {
			return
		}
		w.applyOutcome(h, ev.Time, p.SocketFD, out)
	case event.KindTCPCloseTimerExpired:
		p := ev.Payload.(event.TCPCloseTimerExpired)
		if p.Cancel.Cancelled() {
			return
		}
		out, err := h.Sockets.CloseTimerFired(p.SocketFD)
		if err != nil {
			return
		}
		w.applyOutcome(h, ev.Time, p.SocketFD, out)
	case event.KindDeferredCallback:
		p := ev.Payload.(event.DeferredCallback)
		if p.Cancel.Cancelled() {
			return
		}
		p.Fn()
	case event.KindStopApplication:
		w.onStopApplication(h)
	case event.KindKillEngine:
		h.Killed = true
	default:
		panic(fmt.Sprintf("worker: unhandled event kind %d", ev.Kind))
	}
}

func (w *Worker) onPacketArrived(h *host.Host, ev *event.Event) {
	p := ev.Payload.(event.PacketArrived)
	pkt := p.Packet.(*packet.Packet)

	if p.Dropped {
		pkt.Release()
		return
	}

	// A packet lands at the ingress as one event and is handed to its
	// socket's protocol handler by a second event at the same simulation
	// time, so the two legs of delivery remain distinct, inspectable
	// events (spec.md §4.8).
	h.ScheduleLocal(&event.Event{
		Time:   ev.Time,
		HostID: h.ID,
		Kind:   event.KindPacketReceived,
		Payload: event.PacketReceived{
			Packet: pkt,
		},
	})
}

func (w *Worker) onPacketReceived(h *host.Host, ev *event.Event) {
	p := ev.Payload.(event.PacketReceived)
	pkt := p.Packet.(*packet.Packet)

	switch pkt.Header.Protocol {
	case packet.ProtocolTCP:
		fd, out, ok := h.Sockets.DemuxTCP(pkt)
		if !ok {
			pkt.Release()
			return
		}
		w.applyOutcome(h, ev.Time, fd, out)

		remote := tcp.Endpoint{Addr: pkt.Header.SrcIP, Port: pkt.Header.SrcPort}
		if state, ok := h.Sockets.ChildState(fd, remote); ok && state == tcp.Established {
			h.Sockets.PromoteEstablished(fd, remote)
			w.scheduleActivation(h, ev.Time, fd)
		}
		pkt.Release()

	case packet.ProtocolUDP:
		fd, ok := h.Sockets.DemuxUDP(pkt)
		pkt.Release()
		if ok {
			w.scheduleActivation(h, ev.Time, fd)
		}

	default:
		pkt.Release()
	}
}

func (w *Worker) onStartApplication(h *host.Host, ev *event.Event) {
	p := ev.Payload.(event.StartApplication)

	pl, ok := w.Router.LookupPlugin(p.PluginName)
	if !ok {
		w.Router.Log().Warnw("start application: plug-in not loaded", "host", h.ID, "plugin", p.PluginName)
		return
	}

	facade := newHostFacade(w, h, ev.Time)
	h.Facade = facade

	services := &plugin.KernelServices{
		Log: func(format string, args ...any) {
			w.Router.Log().Infof("[%s/%d] "+format, append([]any{p.PluginName, h.ID}, args...)...)
		},
		ResolveName: w.Router.ResolveName,
		ResolveAddr: w.Router.ResolveAddr,
		MyHostname:  func() string { return h.Hostname },
		MyAddr:      func() string { return h.Addr.String() },
		ScheduleDeferred: func(fn func()) {
			h.ScheduleLocal(&event.Event{
				Time:    facade.now,
				HostID:  h.ID,
				Kind:    event.KindDeferredCallback,
				Payload: event.DeferredCallback{Fn: fn},
			})
		},
		Sockets:       facade,
		EpollCreate:   h.NewEpollInstance,
		EpollInstance: h.EpollInstance,
	}

	inst, err := pl.NewInstance(h.ID, services, p.Arguments)
	if err != nil {
		w.Router.Log().Errorw("start application failed", "host", h.ID, "plugin", p.PluginName, "err", err)
		return
	}
	h.Plugin = inst
}

// onStopApplication frees the host's running application instance, if
// any, in response to that application's configured stop time. Unlike
// KindKillEngine, this never touches h.Killed: the host keeps servicing
// its queue (peer traffic, timers, mail) for the rest of the run.
func (w *Worker) onStopApplication(h *host.Host) {
	if h.Plugin != nil {
		h.Plugin.Free()
		h.Plugin = nil
	}
	h.Facade = nil
}

func (w *Worker) onSocketActivated(h *host.Host, ev *event.Event) {
	p := ev.Payload.(event.SocketActivated)
	w.notifyIfLive(h, ev.Time, nil, p.SocketFD)
}

// notifyIfLive notifies the host's plug-in instance of fd's current
// readiness, unless cancel reports the triggering timer was cancelled.
func (w *Worker) notifyIfLive(h *host.Host, now simtime.Time, cancel *event.CancelToken, fd int) {
	if cancel.Cancelled() {
		return
	}
	if h.Plugin == nil {
		return
	}
	if facade, ok := h.Facade.(*hostFacade); ok {
		facade.now = now
	}
	readable, writable := h.Sockets.Readiness(fd)
	if readable {
		h.Plugin.NotifySocketReadable(fd)
	}
	if writable {
		h.Plugin.NotifySocketWritable(fd)
	}
}

func (w *Worker) scheduleActivation(h *host.Host, now simtime.Time, fd int) {
	h.ScheduleLocal(&event.Event{
		Time:    now,
		HostID:  h.ID,
		Kind:    event.KindSocketActivated,
		Payload: event.SocketActivated{SocketFD: fd},
	})
}
