package event

// PacketArrived is the payload for KindPacketArrived: a packet has
// finished traversing a link and is landing at this host. Packet is an
// opaque `any` here (rather than *packet.Packet) to avoid a dependency
// cycle between event and packet; the host dispatch layer type-asserts
// it back.
type PacketArrived struct {
	Packet any
	// Dropped is set by the link model before scheduling when the loss
	// draw failed, so the receiving host can release its reference
	// without touching the protocol stack.
	Dropped bool
}

// PacketReceived is the payload for KindPacketReceived: a packet has
// been demultiplexed to a specific socket's protocol handler.
type PacketReceived struct {
	SocketFD int
	Packet   any
}

// StartApplication is the payload for KindStartApplication, replaying a
// bootstrap `application{}` action.
type StartApplication struct {
	PluginName string
	Arguments  []string
}

// SocketActivated is the payload for KindSocketActivated: a socket's
// readiness bits changed and any waiting guest poll should re-check.
type SocketActivated struct {
	SocketFD int
}

// SocketPollTimerExpired is the payload for KindSocketPollTimerExpired.
type SocketPollTimerExpired struct {
	SocketFD int
	Cancel   *CancelToken
}

// TCPRetransmitTimerExpired is the payload for KindTCPRetransmitTimerExpired.
type TCPRetransmitTimerExpired struct {
	SocketFD int
	Cancel   *CancelToken
}

// TCPCloseTimerExpired is the payload for KindTCPCloseTimerExpired
// (TIME-WAIT expiry).
type TCPCloseTimerExpired struct {
	SocketFD int
	Cancel   *CancelToken
}

// TCPDelayedACKTimerExpired is the payload for KindTCPDelayedACKTimerExpired.
type TCPDelayedACKTimerExpired struct {
	SocketFD int
	Cancel   *CancelToken
}

// DeferredCallback is the payload for KindDeferredCallback: a plug-in
// asked the kernel services table to call it back later.
type DeferredCallback struct {
	Fn     func()
	Cancel *CancelToken
}

// StopApplication is the payload for KindStopApplication: the
// application running on this host has reached its configured stop
// time and should be freed.
type StopApplication struct{}

// KillEngine is the payload for KindKillEngine: tells the worker
// servicing this host to stop draining its queue.
type KillEngine struct{}
