package worker

import (
	"fmt"

	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/packet"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/tcp"
)

// applyOutcome turns a tcp.Outcome produced against fd's connection
// into scheduled events: every packet goes through link-delay sampling
// and lands as a KindPacketArrived (locally or routed to its owner
// host); every timer action arms or cancels fd's corresponding timer.
func (w *Worker) applyOutcome(h *host.Host, now simtime.Time, fd int, out tcp.Outcome) {
	for _, pkt := range out.Packets {
		w.sendPacket(h, now, pkt)
	}

	for _, ta := range out.Timers {
		if !ta.Arm {
			h.CancelTimer(fd, ta.Kind)
			continue
		}
		tok := h.ArmTimer(fd, ta.Kind)
		h.ScheduleLocal(&event.Event{
			Time:    now.Add(ta.Delay),
			HostID:  h.ID,
			Kind:    timerEventKind(ta.Kind),
			Payload: timerPayload(ta.Kind, fd, tok),
		})
	}

	// A receive or a fired timer can change readable/writable state
	// without the caller having refreshed it (DemuxTCP in particular
	// applies Receive directly); recompute unconditionally and let the
	// guest's own epoll semantics absorb a spurious re-notification the
	// way a level-triggered epoll would.
	h.Sockets.RefreshReadiness(fd)
	w.scheduleActivation(h, now, fd)

	if out.Reset {
		w.Router.Log().Debugw("connection reset", "host", h.ID, "fd", fd)
	}
}

// sendPacket resolves pkt's destination host and schedules its arrival
// after the sampled link delay, or releases it if the destination is
// unroutable.
func (w *Worker) sendPacket(h *host.Host, now simtime.Time, pkt *packet.Packet) {
	dstHostID, ok := w.Router.ResolveHostByAddr(pkt.Header.DstIP)
	if !ok {
		w.Router.Log().Debugw("dropping packet to unknown host", "dst", pkt.Header.DstIP)
		pkt.Release()
		return
	}

	delay, dropped, err := w.Router.LinkDelay(h.ID, dstHostID, len(pkt.Payload))
	if err != nil {
		w.Router.Log().Errorw("link delay sampling failed", "err", err)
		pkt.Release()
		return
	}

	arrival := &event.Event{
		Time:    now.Add(delay),
		HostID:  dstHostID,
		Kind:    event.KindPacketArrived,
		Payload: event.PacketArrived{Packet: pkt, Dropped: dropped},
	}

	if dstHostID == h.ID {
		h.ScheduleLocal(arrival)
		return
	}
	w.Router.Schedule(now, arrival, true)
}

func timerEventKind(kind tcp.TimerKind) event.Kind {
	switch kind {
	case tcp.TimerRetransmit:
		return event.KindTCPRetransmitTimerExpired
	case tcp.TimerDelayedACK:
		return event.KindTCPDelayedACKTimerExpired
	case tcp.TimerClose:
		return event.KindTCPCloseTimerExpired
	default:
		panic(fmt.Sprintf("worker: unknown timer kind %d", kind))
	}
}

func timerPayload(kind tcp.TimerKind, fd int, tok *event.CancelToken) any {
	switch kind {
	case tcp.TimerRetransmit:
		return event.TCPRetransmitTimerExpired{SocketFD: fd, Cancel: tok}
	case tcp.TimerDelayedACK:
		return event.TCPDelayedACKTimerExpired{SocketFD: fd, Cancel: tok}
	case tcp.TimerClose:
		return event.TCPCloseTimerExpired{SocketFD: fd, Cancel: tok}
	default:
		panic(fmt.Sprintf("worker: unknown timer kind %d", kind))
	}
}
