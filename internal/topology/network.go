package topology

// NetworkID is a network's identity ("quark" in spec terms — an
// interned name used as a map key).
type NetworkID string

// Network is a node in the internetwork graph: an identity plus the
// latency CDF used for traffic between two hosts inside it.
type Network struct {
	ID       NetworkID
	IntraCDF *CDF

	outLinks map[NetworkID]*Link
	inLinks  map[NetworkID]*Link
}

func newNetwork(id NetworkID, intraCDF *CDF) *Network {
	return &Network{
		ID:       id,
		IntraCDF: intraCDF,
		outLinks: make(map[NetworkID]*Link),
		inLinks:  make(map[NetworkID]*Link),
	}
}

// OutLink returns the link from this network to dst, if any.
func (n *Network) OutLink(dst NetworkID) (*Link, bool) {
	l, ok := n.outLinks[dst]
	return l, ok
}

// Neighbors returns the set of networks reachable by one directed hop,
// either direction, used for the weak-connectivity check.
func (n *Network) neighbors() map[NetworkID]struct{} {
	out := make(map[NetworkID]struct{}, len(n.outLinks)+len(n.inLinks))
	for id := range n.outLinks {
		out[id] = struct{}{}
	}
	for id := range n.inLinks {
		out[id] = struct{}{}
	}
	return out
}

// Link is a directed edge of the internetwork graph carrying a latency
// CDF and a loss probability sampled per packet.
type Link struct {
	Src, Dst NetworkID
	CDF      *CDF
	Loss     float64

	// LatencyQuartiles, when non-nil, is an optional human-facing
	// summary of the link's CDF (p25/p50/p75), populated by the
	// topology loader for logging/diagnostics only.
	LatencyQuartiles *Quartiles
}

// Quartiles is an optional latency summary attached to a Link.
type Quartiles struct {
	P25, P50, P75 int64 // nanoseconds
}
