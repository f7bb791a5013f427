// Package plugin implements guest isolation: a Shadow "plug-in" is a
// shared library loaded once per simulation, but every simulated host
// needs its own private view of the plug-in's global variables. Go has
// no dlopen-style mechanism to enumerate a shared object's data
// segment, so instead the plug-in registers the (pointer, size) spans
// it wants isolated, and the host switch takes an unsafe byte-for-byte
// snapshot of those spans around every guest call.
package plugin

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/shadow-sim/shadow/internal/epoll"
	"github.com/shadow-sim/shadow/internal/tcp"
	"github.com/shadow-sim/shadow/internal/udp"
	"github.com/shadow-sim/shadow/internal/vsocket"
)

// Span is one registered global-state region: a pointer to the live
// memory the guest's compiled code actually reads and writes, together
// with its size in bytes.
type Span struct {
	Ptr  unsafe.Pointer
	Size uintptr
}

// NewInstanceFunc, FreeInstanceFunc, and the readiness callbacks mirror
// the plug-in function table spec.md §5 describes: the entry points a
// guest shared library exports for the engine to call into.
type (
	NewInstanceFunc      func(services *KernelServices, args []string) error
	FreeInstanceFunc     func()
	SocketReadableFunc    func(fd int)
	SocketWritableFunc    func(fd int)
)

// Table is the function table a plug-in exposes.
type Table struct {
	NewInstance    NewInstanceFunc
	FreeInstance   FreeInstanceFunc
	SocketReadable SocketReadableFunc
	SocketWritable SocketWritableFunc
}

// KernelServices is the table of services the engine exposes back to
// guest code: registration of global spans, logging, name resolution,
// and the deferred-callback scheduler (spec.md §5's "kernel services
// table").
type KernelServices struct {
	Log              func(format string, args ...any)
	ResolveName      func(name string) (string, bool)
	ResolveAddr      func(addr string) (string, bool)
	MyHostname       func() string
	MyAddr           func() string
	ScheduleDeferred func(fn func())

	// Sockets is the host's guest-visible socket API, the Go substitute
	// for having the guest's libc socket calls intercepted and routed to
	// a kernel: since this port links plug-ins directly instead of
	// dlopen-ing them, this facade is the interception point. It hides
	// the tcp.Outcome plumbing a real call produces — the driver behind
	// it applies those side effects before returning, exactly as a
	// guest's write(2) never sees the kernel's internal retransmit
	// bookkeeping.
	Sockets SocketFacade

	// EpollCreate/EpollInstance expose the host's per-guest epoll
	// instances, mirroring epoll_create(2)/the instance a later
	// epoll_ctl(2)/epoll_wait(2) call operates on.
	EpollCreate   func() int
	EpollInstance func(fd int) (*epoll.Instance, bool)

	register func(spans ...Span)
}

// SocketFacade is the guest-visible socket surface a plug-in uses in
// place of the real socket(2)/bind(2)/.../close(2) family. Implemented
// by internal/worker against a specific host, so that a TCP call's
// Outcome (packets to schedule, timers to arm) is applied by the driver
// before the guest sees a return value.
type SocketFacade interface {
	Socket(domain vsocket.Domain, typ vsocket.SockType) (int, error)
	Bind(fd int, local tcp.Endpoint) error
	Listen(fd int, backlog int) error
	Accept(fd int) (int, tcp.Endpoint, error)
	Connect(fd int, remote tcp.Endpoint) error
	Send(fd int, data []byte) (int, error)
	Recv(fd int, buf []byte) (int, error)
	SendTo(fd int, dst tcp.Endpoint, data []byte) (int, error)
	SendConnected(fd int, data []byte) (int, error)
	RecvFrom(fd int) (udp.Datagram, error)
	Shutdown(fd int, how tcp.ShutdownHow) error
	Close(fd int) error
	SetSockOpt(fd int, opt vsocket.SockOpt, value bool) error
	GetSockOpt(fd int, opt vsocket.SockOpt) (bool, error)
	GetSockName(fd int) (tcp.Endpoint, error)
	GetPeerName(fd int) (tcp.Endpoint, error)
}

// RegisterGlobals records the memory spans this host's instance of the
// plug-in wants snapshotted on every switch-out and restored on every
// switch-in. A plug-in calls this once, from NewInstance, passing the
// spans for every global and static variable its compiled code touches.
func (k *KernelServices) RegisterGlobals(spans ...Span) {
	k.register(spans...)
}

// Plugin is one loaded shared library, shared by every host that runs
// it. Only one host's globals may be "switched in" at a time — that
// invariant is enforced by mu, matching spec.md §5's single
// plug-in-wide lock.
type Plugin struct {
	Name  string
	Table Table

	mu      sync.Mutex
	current uint64 // hostID whose globals are live; also 0 before any instance exists
}

// Load registers a plug-in's function table under a name. There is no
// real dynamic loading step: in this Go port, "loading" a plug-in means
// wiring up the Table a build-time-linked package exposes, since
// cgo/dlopen-style loading of arbitrary guest binaries is out of scope
// (spec.md Non-goals).
func Load(name string, table Table) *Plugin {
	return &Plugin{Name: name, Table: table}
}

// Instance is one host's private view of a Plugin: its registered
// global spans and a byte-for-byte snapshot buffer for each.
type Instance struct {
	plugin *Plugin
	hostID uint64
	spans  []Span
	saved  [][]byte
	args   []string
}

// NewInstance creates a host's instance and calls the plug-in's
// NewInstance entry point with switch-in already applied, so any
// globals the plug-in writes during initialization land in this host's
// private snapshot rather than another host's.
func (p *Plugin) NewInstance(hostID uint64, services *KernelServices, args []string) (*Instance, error) {
	inst := &Instance{plugin: p, hostID: hostID, args: args}
	services.register = func(spans ...Span) {
		inst.spans = append(inst.spans, spans...)
		for _, s := range spans {
			inst.saved = append(inst.saved, make([]byte, s.Size))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Table.NewInstance == nil {
		return inst, nil
	}
	if err := p.Table.NewInstance(services, args); err != nil {
		return nil, fmt.Errorf("plugin %s: new instance: %w", p.Name, err)
	}
	inst.snapshotLocked()
	p.current = hostID
	return inst, nil
}

// SwitchIn restores this instance's saved globals into the plug-in's
// live memory and takes the plug-in-wide lock, which SwitchOut
// releases. Every call into guest code must be bracketed by
// SwitchIn/SwitchOut.
func (i *Instance) SwitchIn() {
	i.plugin.mu.Lock()
	if i.plugin.current == i.hostID {
		return
	}
	i.restoreLocked()
	i.plugin.current = i.hostID
}

// SwitchOut snapshots the plug-in's live memory back into this
// instance's private copy and releases the lock.
func (i *Instance) SwitchOut() {
	i.snapshotLocked()
	i.plugin.mu.Unlock()
}

func (i *Instance) snapshotLocked() {
	for idx, span := range i.spans {
		src := unsafe.Slice((*byte)(span.Ptr), span.Size)
		copy(i.saved[idx], src)
	}
}

func (i *Instance) restoreLocked() {
	for idx, span := range i.spans {
		dst := unsafe.Slice((*byte)(span.Ptr), span.Size)
		copy(dst, i.saved[idx])
	}
}

// Free calls the plug-in's FreeInstance entry point with this
// instance's globals switched in.
func (i *Instance) Free() {
	i.SwitchIn()
	defer i.SwitchOut()
	if i.plugin.Table.FreeInstance != nil {
		i.plugin.Table.FreeInstance()
	}
}

// NotifySocketReadable invokes the plug-in's readable callback with
// this instance's globals switched in.
func (i *Instance) NotifySocketReadable(fd int) {
	i.SwitchIn()
	defer i.SwitchOut()
	if i.plugin.Table.SocketReadable != nil {
		i.plugin.Table.SocketReadable(fd)
	}
}

// NotifySocketWritable invokes the plug-in's writable callback with
// this instance's globals switched in.
func (i *Instance) NotifySocketWritable(fd int) {
	i.SwitchIn()
	defer i.SwitchOut()
	if i.plugin.Table.SocketWritable != nil {
		i.plugin.Table.SocketWritable(fd)
	}
}

// Registry keeps every loaded plug-in addressable by name, the way a
// topology's <application plugin="..."> declaration selects one.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewRegistry returns an empty plug-in registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

// Register adds a loaded plug-in under its name.
func (r *Registry) Register(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name]; exists {
		return fmt.Errorf("plugin: %s already registered", p.Name)
	}
	r.plugins[p.Name] = p
	return nil
}

// Lookup returns a registered plug-in by name.
func (r *Registry) Lookup(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}
