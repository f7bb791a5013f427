package engine

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/shadow-sim/shadow/common/go/xnetip"
	"github.com/shadow-sim/shadow/internal/address"
	"github.com/shadow-sim/shadow/internal/builtin"
	"github.com/shadow-sim/shadow/internal/config"
	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/topology"
)

// Bootstrap replays a topology's action list in order (spec.md §6):
// loading plug-ins, defining CDFs, standing up networks and links, and
// finally creating hosts (scheduling each one's application start/stop
// events straight onto its local queue, since bootstrap itself runs
// before any worker owns a host). It must run to completion before
// Run is ever called.
func (e *Engine) Bootstrap(actions []config.Action) error {
	for _, act := range actions {
		var err error
		switch a := act.(type) {
		case config.LoadPluginAction:
			err = e.loadPlugin(a)
		case config.CDFAction:
			err = e.defineCDF(a)
		case config.CreateNetworkAction:
			err = e.createNetwork(a)
		case config.ConnectNetworksAction:
			err = e.connectNetworks(a)
		case config.CreateNodeAction:
			err = e.createNode(a)
		default:
			err = fmt.Errorf("engine: bootstrap: unrecognized action type %T", act)
		}
		if err != nil {
			return err
		}
	}

	if !e.net.IsWeaklyConnected() {
		return fmt.Errorf("engine: bootstrap: internetwork is not weakly connected")
	}

	deltaMin, err := e.net.DeltaMin(e.cfg.MinTimeJump)
	if err != nil {
		return err
	}
	e.deltaMin = deltaMin

	e.log.Infow("bootstrap complete", "networks", len(e.networkDefault), "hosts", len(e.hosts), "deltaMin", deltaMin)
	return nil
}

// loadPlugin resolves the topology's <plugin path="..."> attribute to
// one of the bundled reference plug-ins in place of an actual dlopen
// (spec.md Non-goals rule out loading arbitrary guest shared objects).
func (e *Engine) loadPlugin(a config.LoadPluginAction) error {
	table, ok := builtin.Lookup(a.Path)
	if !ok {
		return fmt.Errorf("engine: bootstrap: plug-in %q: no built-in plug-in bundled for path %q", a.Name, a.Path)
	}
	if err := e.plugins.Register(plugin.Load(a.Name, table)); err != nil {
		return err
	}
	e.log.Debugw("loaded plug-in", "name", a.Name, "path", a.Path)
	return nil
}

func (e *Engine) defineCDF(a config.CDFAction) error {
	var cdf *topology.CDF
	var err error

	if len(a.Points) > 0 {
		points := make([]topology.CDFPoint, len(a.Points))
		for i, p := range a.Points {
			points[i] = topology.CDFPoint{Fraction: p.Fraction, Value: p.Value}
		}
		cdf, err = topology.NewCDF(points)
	} else {
		cdf, err = topology.GenerateCDF(a.Center, a.Width, a.Tail)
	}
	if err != nil {
		return fmt.Errorf("engine: bootstrap: cdf %q: %w", a.Name, err)
	}

	e.cdfs[a.Name] = cdf
	return nil
}

// createNetwork registers the network and, since Internetwork.Link
// requires a registered destination even for same-network traffic, a
// self-link carrying the same intra-network CDF — letting LinkDelay
// query g.Link uniformly whether the source and destination hosts
// share a network or not.
func (e *Engine) createNetwork(a config.CreateNetworkAction) error {
	intraCDF := topology.Constant(0)
	if a.CDF != "" {
		cdf, ok := e.cdfs[a.CDF]
		if !ok {
			return fmt.Errorf("engine: bootstrap: network %q references unknown cdf %q", a.Name, a.CDF)
		}
		intraCDF = cdf
	}

	id := topology.NetworkID(a.Name)
	if err := e.net.AddNetwork(id, intraCDF); err != nil {
		return err
	}
	if _, err := e.net.AddLink(id, id, intraCDF, a.PacketLoss); err != nil {
		return err
	}

	if a.Subnet != "" {
		prefix, err := netip.ParsePrefix(a.Subnet)
		if err != nil {
			return fmt.Errorf("engine: bootstrap: network %q: parse subnet %q: %w", a.Name, a.Subnet, err)
		}
		e.networkSubnet[id] = prefix
	}

	e.networkDefault[id] = a
	return nil
}

// hostInSubnet reports whether ip falls within the inclusive
// [network address, last address] range of netID's configured subnet,
// or true if the network has none configured. LastAddr computes the
// upper bound from the prefix's wildcard bits, sparing callers from
// hand-rolling the mask arithmetic for quantity-expanded node ranges.
func (e *Engine) hostInSubnet(netID topology.NetworkID, ip netip.Addr) bool {
	prefix, ok := e.networkSubnet[netID]
	if !ok {
		return true
	}
	lo := prefix.Masked().Addr()
	hi := xnetip.LastAddr(prefix)
	return ip.Compare(lo) >= 0 && ip.Compare(hi) <= 0
}

func (e *Engine) connectNetworks(a config.ConnectNetworksAction) error {
	cdfAB, err := e.resolveLinkCDF(a.CDFAB, a.LatencyAB)
	if err != nil {
		return err
	}
	cdfBA, err := e.resolveLinkCDF(a.CDFBA, a.LatencyBA)
	if err != nil {
		return err
	}

	src := topology.NetworkID(a.NetworkA)
	dst := topology.NetworkID(a.NetworkB)
	if _, err := e.net.AddLink(src, dst, cdfAB, a.LossAB); err != nil {
		return err
	}
	if _, err := e.net.AddLink(dst, src, cdfBA, a.LossBA); err != nil {
		return err
	}
	return nil
}

func (e *Engine) resolveLinkCDF(name string, constant time.Duration) (*topology.CDF, error) {
	if name == "" {
		return topology.Constant(constant), nil
	}
	cdf, ok := e.cdfs[name]
	if !ok {
		return nil, fmt.Errorf("engine: bootstrap: link references unknown cdf %q", name)
	}
	return cdf, nil
}

func (e *Engine) createNode(a config.CreateNodeAction) error {
	netID := topology.NetworkID(a.Network)
	if _, ok := e.net.Network(netID); !ok {
		return fmt.Errorf("engine: bootstrap: node %q references unknown network %q", a.Name, a.Network)
	}

	ip, err := netip.ParseAddr(a.IP)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: node %q: parse ip %q: %w", a.Name, a.IP, err)
	}
	if _, taken := e.addrToHost[ip]; taken {
		return fmt.Errorf("engine: bootstrap: node %q: address %s already in use", a.Name, ip)
	}
	if !e.hostInSubnet(netID, ip) {
		return fmt.Errorf("engine: bootstrap: node %q: address %s outside network %q's configured subnet", a.Name, ip, a.Network)
	}

	id := e.nextHostID
	e.nextHostID++

	h := host.New(id, a.Name, ip, e.cfg.Seed)
	h.Network = netID
	h.BandwidthDown = a.BandwidthDown
	h.BandwidthUp = a.BandwidthUp
	h.CPUSpeed = a.CPU
	if def, ok := e.networkDefault[netID]; ok {
		if h.BandwidthDown == 0 {
			h.BandwidthDown = def.BandwidthDown
		}
		if h.BandwidthUp == 0 {
			h.BandwidthUp = def.BandwidthUp
		}
	}

	addr, err := address.New(ip, a.Name)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: node %q: %w", a.Name, err)
	}
	if err := e.dns.Register(addr); err != nil {
		return fmt.Errorf("engine: bootstrap: node %q: %w", a.Name, err)
	}

	e.hosts[id] = h
	e.hostsByName[a.Name] = h
	e.hostNetwork[id] = netID
	e.addrToHost[ip] = id

	if a.Application != nil {
		h.ScheduleLocal(&event.Event{
			Time:   simtime.FromDuration(a.Application.StartTime),
			HostID: id,
			Kind:   event.KindStartApplication,
			Payload: event.StartApplication{
				PluginName: a.Application.Plugin,
				Arguments:  a.Application.Arguments,
			},
		})

		if a.Application.StopTime > 0 {
			h.ScheduleLocal(&event.Event{
				Time:    simtime.FromDuration(a.Application.StopTime),
				HostID:  id,
				Kind:    event.KindStopApplication,
				Payload: event.StopApplication{},
			})
		}
	}

	return nil
}
