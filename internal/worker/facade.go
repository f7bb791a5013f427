package worker

import (
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/tcp"
	"github.com/shadow-sim/shadow/internal/udp"
	"github.com/shadow-sim/shadow/internal/vsocket"
)

// hostFacade implements plugin.SocketFacade against one host's socket
// table, applying every call's tcp.Outcome through the owning worker
// before returning to guest code. now tracks the simulation time of
// whichever event is currently being dispatched; the worker refreshes
// it immediately before invoking any plug-in entry point.
type hostFacade struct {
	w   *Worker
	h   *host.Host
	now simtime.Time
}

func newHostFacade(w *Worker, h *host.Host, now simtime.Time) *hostFacade {
	return &hostFacade{w: w, h: h, now: now}
}

func (f *hostFacade) Socket(domain vsocket.Domain, typ vsocket.SockType) (int, error) {
	return f.h.Sockets.Socket(domain, typ)
}

func (f *hostFacade) Bind(fd int, local tcp.Endpoint) error {
	return f.h.Sockets.Bind(fd, local)
}

func (f *hostFacade) Listen(fd int, backlog int) error {
	return f.h.Sockets.Listen(fd, backlog)
}

func (f *hostFacade) Accept(fd int) (int, tcp.Endpoint, error) {
	return f.h.Sockets.Accept(fd)
}

func (f *hostFacade) Connect(fd int, remote tcp.Endpoint) error {
	_, out, err := f.h.Sockets.Connect(fd, remote)
	f.w.applyOutcome(f.h, f.now, fd, out)
	return err
}

func (f *hostFacade) Send(fd int, data []byte) (int, error) {
	n, out, err := f.h.Sockets.Send(fd, data)
	f.w.applyOutcome(f.h, f.now, fd, out)
	return n, err
}

func (f *hostFacade) Recv(fd int, buf []byte) (int, error) {
	return f.h.Sockets.Recv(fd, buf)
}

func (f *hostFacade) SendTo(fd int, dst tcp.Endpoint, data []byte) (int, error) {
	n, pkt, err := f.h.Sockets.SendTo(fd, dst, data)
	if err == nil && pkt != nil {
		f.w.sendPacket(f.h, f.now, pkt)
	}
	return n, err
}

func (f *hostFacade) SendConnected(fd int, data []byte) (int, error) {
	n, pkt, err := f.h.Sockets.SendConnected(fd, data)
	if err == nil && pkt != nil {
		f.w.sendPacket(f.h, f.now, pkt)
	}
	return n, err
}

func (f *hostFacade) RecvFrom(fd int) (udp.Datagram, error) {
	return f.h.Sockets.RecvFrom(fd)
}

func (f *hostFacade) Shutdown(fd int, how tcp.ShutdownHow) error {
	out, err := f.h.Sockets.Shutdown(fd, how)
	f.w.applyOutcome(f.h, f.now, fd, out)
	return err
}

func (f *hostFacade) Close(fd int) error {
	return f.h.Sockets.Close(fd)
}

func (f *hostFacade) SetSockOpt(fd int, opt vsocket.SockOpt, value bool) error {
	return f.h.Sockets.SetSockOpt(fd, opt, value)
}

func (f *hostFacade) GetSockOpt(fd int, opt vsocket.SockOpt) (bool, error) {
	return f.h.Sockets.GetSockOpt(fd, opt)
}

func (f *hostFacade) GetSockName(fd int) (tcp.Endpoint, error) {
	return f.h.Sockets.GetSockName(fd)
}

func (f *hostFacade) GetPeerName(fd int) (tcp.Endpoint, error) {
	return f.h.Sockets.GetPeerName(fd)
}
