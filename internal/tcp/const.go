package tcp

import "time"

// Constants pinned per spec.md §9 Open Questions: the exact MSS,
// initial RTO, MSL, and congestion-avoidance formula vary across
// Shadow source revisions, so we fix them here as the implementation's
// configurable constants.
const (
	// MSS is the maximum TCP segment payload size.
	MSS = 1460

	// InitialRTO is the retransmission timeout before any RTT sample
	// has been taken.
	InitialRTO = 1 * time.Second

	// MaxRTO caps the exponential RTO backoff.
	MaxRTO = 60 * time.Second

	// MSL is the maximum segment lifetime; TIME-WAIT lasts 2*MSL.
	MSL = 60 * time.Second

	// TimeWaitDuration is how long a connection lingers in TIME-WAIT.
	TimeWaitDuration = 2 * MSL

	// DelayedACKDelay is how long the receiver waits before flushing a
	// standalone cumulative ACK for in-order data.
	DelayedACKDelay = 10 * time.Millisecond

	// InitialCwnd is the starting congestion window.
	InitialCwnd = MSS

	// InitialSsthresh is the starting slow-start threshold, set high
	// enough that a fresh connection starts in slow start.
	InitialSsthresh = 64 * 1024

	// MinSsthresh is the floor imposed on ssthresh after a loss event.
	MinSsthresh = 2 * MSS

	// DupAckThreshold is the number of duplicate ACKs that triggers
	// fast retransmit.
	DupAckThreshold = 3

	// InitialSeq is the fixed initial sequence number every connection
	// uses. Shadow's determinism model does not require randomized ISNs.
	InitialSeq uint32 = 0

	// DefaultBufferCapacity is the default send/receive buffer size
	// used when a topology does not override it.
	DefaultBufferCapacity = 64 * 1024

	// MaxRetransmitAttempts bounds retransmission before the
	// connection is torn down with CONNRESET (spec.md §7).
	MaxRetransmitAttempts = 12
)
