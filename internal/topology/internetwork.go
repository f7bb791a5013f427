// Package topology models the internetwork graph: networks joined by
// directed links, each with a latency CDF and a loss probability. It
// implements the sampling and delay-computation contract link model
// (spec.md §4.9) consumes.
package topology

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/c2h5oh/datasize"
)

// Internetwork is a directed multigraph of Networks joined by Links.
// It must be weakly connected once topology build finishes.
type Internetwork struct {
	networks map[NetworkID]*Network
}

// NewInternetwork returns an empty internetwork graph.
func NewInternetwork() *Internetwork {
	return &Internetwork{networks: make(map[NetworkID]*Network)}
}

// AddNetwork registers a new network with its intra-network latency CDF.
func (g *Internetwork) AddNetwork(id NetworkID, intraCDF *CDF) error {
	if _, exists := g.networks[id]; exists {
		return fmt.Errorf("topology: network %q already exists", id)
	}
	g.networks[id] = newNetwork(id, intraCDF)
	return nil
}

// Network returns the network registered under id, if any.
func (g *Internetwork) Network(id NetworkID) (*Network, bool) {
	n, ok := g.networks[id]
	return n, ok
}

// AddLink joins src to dst with the given CDF and loss probability. A
// symmetric topology declaration should call AddLink twice (once per
// direction) since spec.md's link grammar allows either an asymmetric
// a/b form or a symmetric shorthand; the loader is responsible for
// expanding the shorthand.
func (g *Internetwork) AddLink(src, dst NetworkID, cdf *CDF, loss float64) (*Link, error) {
	srcNet, ok := g.networks[src]
	if !ok {
		return nil, fmt.Errorf("topology: unknown source network %q", src)
	}
	dstNet, ok := g.networks[dst]
	if !ok {
		return nil, fmt.Errorf("topology: unknown destination network %q", dst)
	}
	if _, exists := srcNet.outLinks[dst]; exists {
		return nil, fmt.Errorf("topology: link %s->%s already exists", src, dst)
	}
	if loss < 0 || loss > 1 {
		return nil, fmt.Errorf("topology: loss probability %f out of range", loss)
	}

	link := &Link{Src: src, Dst: dst, CDF: cdf, Loss: loss}
	srcNet.outLinks[dst] = link
	dstNet.inLinks[src] = link
	return link, nil
}

// Link returns the directed link from src to dst, if any.
func (g *Internetwork) Link(src, dst NetworkID) (*Link, bool) {
	n, ok := g.networks[src]
	if !ok {
		return nil, false
	}
	return n.OutLink(dst)
}

// IsWeaklyConnected reports whether the graph, treated as undirected,
// is connected. An internetwork with zero or one network is trivially
// connected.
func (g *Internetwork) IsWeaklyConnected() bool {
	if len(g.networks) <= 1 {
		return true
	}

	var start NetworkID
	for id := range g.networks {
		start = id
		break
	}

	visited := map[NetworkID]struct{}{start: {}}
	queue := []NetworkID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		n := g.networks[cur]
		for neighbor := range n.neighbors() {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, neighbor)
		}
	}

	return len(visited) == len(g.networks)
}

// DeltaMin computes the engine's conservative cross-host barrier
// increment: the minimum possible delivery delay across all link and
// intra-network CDFs, floored by the configured min-time-jump so that a
// zero-latency link can never violate the conservative protocol
// (spec.md §4.9).
func (g *Internetwork) DeltaMin(minTimeJump time.Duration) (time.Duration, error) {
	if len(g.networks) == 0 {
		return minTimeJump, nil
	}

	min := time.Duration(math.MaxInt64)
	for _, n := range g.networks {
		if n.IntraCDF != nil && n.IntraCDF.Min() < min {
			min = n.IntraCDF.Min()
		}
		for _, link := range n.outLinks {
			if link.CDF.Min() < min {
				min = link.CDF.Min()
			}
		}
	}

	if min < minTimeJump {
		min = minTimeJump
	}
	if min <= 0 {
		return 0, fmt.Errorf("topology: Δmin resolved to a non-positive value; set a positive min-time-jump")
	}
	return min, nil
}

// SerializationDelay computes the bottleneck-bandwidth serialization
// term of spec.md §4.9's delay formula: ceil(size / min(up, down) * 1e9)
// nanoseconds.
func SerializationDelay(size int, up, down datasize.ByteSize) time.Duration {
	bottleneck := up
	if down < up {
		bottleneck = down
	}
	if bottleneck == 0 {
		return 0
	}
	ns := math.Ceil(float64(size) / float64(bottleneck.Bytes()) * 1e9)
	return time.Duration(ns)
}

// TotalDelay computes the full per-packet delivery delay of spec.md
// §4.9: a sampled link latency plus the bottleneck serialization term.
func TotalDelay(sampledLatency time.Duration, size int, up, down datasize.ByteSize) time.Duration {
	return sampledLatency + SerializationDelay(size, up, down)
}

// SampleLoss draws against a link's loss probability and reports
// whether the packet should be dropped.
func (l *Link) SampleLoss(r *rand.Rand) bool {
	if l.Loss <= 0 {
		return false
	}
	return r.Float64() < l.Loss
}
