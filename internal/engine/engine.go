// Package engine implements the top-level discrete-event scheduler:
// bootstrap replay of a topology's actions, the conservative
// time-barrier round loop driving the worker pool, and the
// internal/worker.Router surface workers dispatch through to reach
// cross-host scheduling, link-delay sampling, and name resolution.
package engine

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/shadow-sim/shadow/internal/address"
	"github.com/shadow-sim/shadow/internal/config"
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/topology"
	"github.com/shadow-sim/shadow/internal/worker"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{Log: zap.NewNop().Sugar()}
}

// Option configures an Engine at construction time.
type Option func(*options)

// WithLog sets the engine's logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.Log = log }
}

// Engine owns every piece of simulation state that survives across
// rounds: the plug-in registry, the virtual DNS, the internetwork
// graph, the host table, and the worker pool that drives them.
type Engine struct {
	cfg *config.Config
	log *zap.SugaredLogger

	plugins *plugin.Registry
	dns     *address.DNS
	net     *topology.Internetwork
	cdfs    map[string]*topology.CDF

	hosts          map[uint64]*host.Host
	hostsByName    map[string]*host.Host
	hostNetwork    map[uint64]topology.NetworkID
	addrToHost     map[netip.Addr]uint64
	networkDefault map[topology.NetworkID]config.CreateNetworkAction
	networkSubnet  map[topology.NetworkID]netip.Prefix

	nextHostID uint64
	deltaMin   time.Duration
	killTime   simtime.Time

	workers []*worker.Worker
}

// NewEngine validates cfg and returns a freshly initialized Engine
// ready for Bootstrap. The worker pool is sized from cfg.WorkerThreads;
// hosts are dealt out to the workers afresh at the start of every round
// (runRound), not during Bootstrap.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		cfg:            cfg,
		log:            o.Log,
		plugins:        plugin.NewRegistry(),
		dns:            address.NewDNS(),
		net:            topology.NewInternetwork(),
		cdfs:           make(map[string]*topology.CDF),
		hosts:          make(map[uint64]*host.Host),
		hostsByName:    make(map[string]*host.Host),
		hostNetwork:    make(map[uint64]topology.NetworkID),
		addrToHost:     make(map[netip.Addr]uint64),
		networkDefault: make(map[topology.NetworkID]config.CreateNetworkAction),
		networkSubnet:  make(map[topology.NetworkID]netip.Prefix),
		killTime:       simtime.FromDuration(cfg.KillTime),
	}

	e.workers = make([]*worker.Worker, cfg.WorkerThreads)
	for i := range e.workers {
		e.workers[i] = worker.New(i, e)
	}

	e.log.Infow("engine initialized", "workerThreads", cfg.WorkerThreads, "seed", fmt.Sprintf("0x%x", cfg.Seed))
	return e, nil
}

// Log implements worker.Router.
func (e *Engine) Log() *zap.SugaredLogger { return e.log }

// LookupPlugin implements worker.Router.
func (e *Engine) LookupPlugin(name string) (*plugin.Plugin, bool) {
	return e.plugins.Lookup(name)
}

// ResolveName implements worker.Router against the virtual DNS.
func (e *Engine) ResolveName(name string) (string, bool) {
	addr, err := e.dns.ResolveName(name)
	if err != nil {
		return "", false
	}
	return addr.Addr().String(), true
}

// ResolveAddr implements worker.Router against the virtual DNS.
func (e *Engine) ResolveAddr(addr string) (string, bool) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "", false
	}
	a, err := e.dns.ResolveAddr(ip)
	if err != nil {
		return "", false
	}
	return a.Hostname(), true
}

// ResolveHostByAddr implements worker.Router.
func (e *Engine) ResolveHostByAddr(ip netip.Addr) (uint64, bool) {
	id, ok := e.addrToHost[ip]
	return id, ok
}
