package worker

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/simtime"
)

// Router is the narrow slice of internal/engine.Engine a Worker needs
// in order to dispatch events: cross-host scheduling (with the
// conservative barrier's guard rail), link-delay sampling, and address
// resolution. Kept as an interface here rather than a direct dependency
// on internal/engine so worker and engine don't import each other.
type Router interface {
	// Schedule routes ev for delivery to its owner host. origin is the
	// simulation time the caller considers "now" (the event currently
	// being dispatched); crossHost distinguishes a same-host zero-delay
	// local schedule from a cross-host send, which must carry at least
	// Δmin past origin or the engine aborts (spec.md §4.1 guard rail).
	Schedule(origin simtime.Time, ev *event.Event, crossHost bool)

	// LinkDelay computes the total delivery delay (spec.md §4.9) for a
	// packet of size bytes traveling from srcHostID to dstHostID, and
	// reports whether the per-link loss draw dropped it.
	LinkDelay(srcHostID, dstHostID uint64, size int) (delay time.Duration, dropped bool, err error)

	// ResolveHostByAddr finds the host id owning ip, used to route a
	// packet's destination IP to the right mailbox.
	ResolveHostByAddr(ip netip.Addr) (uint64, bool)

	// LookupPlugin resolves a topology-declared plug-in by name.
	LookupPlugin(name string) (*plugin.Plugin, bool)

	// ResolveName/ResolveAddr back the plug-in kernel services table's
	// virtual DNS queries.
	ResolveName(name string) (string, bool)
	ResolveAddr(addr string) (string, bool)

	Log() *zap.SugaredLogger
}
