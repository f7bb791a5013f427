package tcp

import (
	"time"

	"github.com/shadow-sim/shadow/internal/packet"
)

// Outcome carries every side effect a Connection method produces. The
// state machine itself never touches a clock, a socket table, or the
// network — it hands the driver (internal/worker's applyOutcome, fed
// through the internal/vsocket methods that return an Outcome) a list
// of packets to transmit and timers to
// arm/cancel, keeping Connection trivially testable without a running
// simulation.
type Outcome struct {
	Packets []*packet.Packet
	Timers  []TimerAction
	// Reset reports that the connection was aborted (RST sent or
	// received); the owning socket should fail pending operations with
	// ECONNRESET.
	Reset bool
	// Torn reports the connection reached CLOSED and its descriptor
	// resources (buffers, retransmit set) can be released.
	Torn bool
}

func (o *Outcome) send(p *packet.Packet) {
	o.Packets = append(o.Packets, p)
}

func (o *Outcome) arm(kind TimerKind, delay time.Duration) {
	o.Timers = append(o.Timers, TimerAction{Kind: kind, Arm: true, Delay: delay})
}

func (o *Outcome) cancel(kind TimerKind) {
	o.Timers = append(o.Timers, TimerAction{Kind: kind, Arm: false})
}
