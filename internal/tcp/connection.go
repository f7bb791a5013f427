package tcp

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shadow-sim/shadow/internal/buffer"
	"github.com/shadow-sim/shadow/internal/packet"
)

// Config tunes a Connection's buffer sizing and segment limits. Zero
// values are replaced with the package defaults.
type Config struct {
	MSS            int
	BufferCapacity int
}

func (c Config) withDefaults() Config {
	if c.MSS <= 0 {
		c.MSS = MSS
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	return c
}

// Connection is one TCP control block. It is a pure state machine: every
// method that can have a side effect returns an Outcome instead of
// performing the effect itself.
type Connection struct {
	Local, Remote Endpoint
	cfg           Config

	state State

	iss, irs uint32

	sndUNA, sndNXT uint32
	sndWND         uint32
	sndWL1, sndWL2 uint32

	rcvNXT uint32

	sendBuf *buffer.SendBuffer
	recvBuf *buffer.RecvBuffer
	inFlight *buffer.RetransmitSet

	cwnd, ssthresh uint32
	dupAcks        int

	retransmitAttempts int
	rtoPolicy          *backoff.ExponentialBackOff
	rto                time.Duration

	delayedACKPending bool
	closeInitiated    bool
	peerFINSeq        uint32
	peerFINSeen       bool

	// ctrlQueue stages zero-payload control segments (SYN/SYN-ACK/bare
	// ACK/FIN) generated while handling one call, kept apart from the
	// data path so a future priority link model can drain control
	// traffic ahead of data without touching sendBuf/inFlight.
	ctrlQueue buffer.ControlQueue
}

// sendControl stages a control segment for flushControl to hand to out.
func (c *Connection) sendControl(seg *packet.Packet) {
	c.ctrlQueue.Push(seg)
}

// flushControl drains every staged control segment into out, in order.
func (c *Connection) flushControl(out *Outcome) {
	for seg := c.ctrlQueue.Pop(); seg != nil; seg = c.ctrlQueue.Pop() {
		out.send(seg)
	}
}

// NewConnection builds a fresh control block in the CLOSED state.
func NewConnection(local, remote Endpoint, cfg Config) *Connection {
	cfg = cfg.withDefaults()
	rtoPolicy := backoff.NewExponentialBackOff()
	rtoPolicy.InitialInterval = InitialRTO
	rtoPolicy.MaxInterval = MaxRTO
	rtoPolicy.Multiplier = 2.0
	rtoPolicy.RandomizationFactor = 0

	return &Connection{
		Local:     local,
		Remote:    remote,
		cfg:       cfg,
		state:     Closed,
		iss:       InitialSeq,
		cwnd:      InitialCwnd,
		ssthresh:  InitialSsthresh,
		rtoPolicy: rtoPolicy,
		rto:       InitialRTO,
	}
}

func (c *Connection) State() State { return c.state }

// OpenActive performs the client side of the three-way handshake,
// emitting the initial SYN.
func (c *Connection) OpenActive() Outcome {
	c.sndUNA = c.iss
	c.sndNXT = c.iss + 1
	c.sendBuf = buffer.NewSendBuffer(c.cfg.BufferCapacity)
	c.inFlight = buffer.NewRetransmitSet()
	c.state = SynSent

	var out Outcome
	syn := c.buildSegment(packet.FlagSYN, c.iss, 0, nil)
	c.inFlight.Add(syn)
	c.sendControl(syn)
	out.arm(TimerRetransmit, c.rto)
	c.flushControl(&out)
	return out
}

// OpenPassiveFromSYN handles an inbound SYN on a listening socket's
// behalf, returning the SYN-ACK for a freshly-minted child connection.
func (c *Connection) OpenPassiveFromSYN(seg *packet.Packet) Outcome {
	c.irs = seg.Header.Seq
	c.rcvNXT = seg.Header.Seq + 1
	c.sndUNA = c.iss
	c.sndNXT = c.iss + 1
	c.sendBuf = buffer.NewSendBuffer(c.cfg.BufferCapacity)
	c.recvBuf = buffer.NewRecvBuffer(c.cfg.BufferCapacity, c.rcvNXT)
	c.inFlight = buffer.NewRetransmitSet()
	c.state = SynReceived

	var out Outcome
	synAck := c.buildSegment(packet.FlagSYN|packet.FlagACK, c.iss, c.rcvNXT, nil)
	c.inFlight.Add(synAck)
	c.sendControl(synAck)
	out.arm(TimerRetransmit, c.rto)
	c.flushControl(&out)
	return out
}

func (c *Connection) buildSegment(flags packet.Flags, seq, ack uint32, payload []byte) *packet.Packet {
	hdr := packet.Header{
		SrcIP:   c.Local.Addr,
		DstIP:   c.Remote.Addr,
		SrcPort: c.Local.Port,
		DstPort: c.Remote.Port,
		Protocol: packet.ProtocolTCP,
		Flags:   flags,
		Seq:     seq,
		Ack:     ack,
		Window:  c.advertisedWindow(),
		Length:  len(payload),
	}
	return packet.New(hdr, payload)
}

func (c *Connection) advertisedWindow() uint16 {
	avail := c.cfg.BufferCapacity
	if c.recvBuf != nil {
		avail = c.recvBuf.Available()
	}
	if avail > 0xFFFF {
		return 0xFFFF
	}
	return uint16(avail)
}

// Receive processes one inbound segment against the current state.
func (c *Connection) Receive(seg *packet.Packet) Outcome {
	var out Outcome

	if seg.Header.Flags.Has(packet.FlagRST) {
		return c.handleReset()
	}

	switch c.state {
	case SynSent:
		return c.receiveSynSent(seg)
	case SynReceived:
		return c.receiveSynReceived(seg)
	case Closed, Listen:
		return out
	default:
		return c.receiveEstablishedOrLater(seg)
	}
}

func (c *Connection) handleReset() Outcome {
	c.state = Closed
	return Outcome{Reset: true, Torn: true}
}

func (c *Connection) receiveSynSent(seg *packet.Packet) Outcome {
	var out Outcome
	if !seg.Header.Flags.Has(packet.FlagSYN) {
		return out
	}
	c.irs = seg.Header.Seq
	c.rcvNXT = seg.Header.Seq + 1
	c.recvBuf = buffer.NewRecvBuffer(c.cfg.BufferCapacity, c.rcvNXT)

	if seg.Header.Flags.Has(packet.FlagACK) {
		if seg.Header.Ack != c.sndNXT {
			return out
		}
		c.sndUNA = seg.Header.Ack
		c.inFlight.RemoveCovered(c.sndUNA)
		c.sndWND = uint32(seg.Header.Window)
		c.sndWL1 = seg.Header.Seq
		c.sndWL2 = seg.Header.Ack
		c.state = Established
		out.cancel(TimerRetransmit)
		ack := c.buildSegment(packet.FlagACK, c.sndNXT, c.rcvNXT, nil)
		c.sendControl(ack)
	}
	c.flushControl(&out)
	return out
}

func (c *Connection) receiveSynReceived(seg *packet.Packet) Outcome {
	var out Outcome
	if seg.Header.Flags.Has(packet.FlagACK) && seg.Header.Ack == c.sndNXT {
		c.sndUNA = seg.Header.Ack
		c.inFlight.RemoveCovered(c.sndUNA)
		c.sndWND = uint32(seg.Header.Window)
		c.sndWL1 = seg.Header.Seq
		c.sndWL2 = seg.Header.Ack
		c.state = Established
		out.cancel(TimerRetransmit)
	}
	return out
}

// receiveEstablishedOrLater handles data/ACK/FIN processing for every
// state from ESTABLISHED through the teardown states.
func (c *Connection) receiveEstablishedOrLater(seg *packet.Packet) Outcome {
	var out Outcome

	if seg.Header.Flags.Has(packet.FlagACK) {
		c.processACK(seg, &out)
	}

	if len(seg.Payload) > 0 {
		c.processData(seg, &out)
	}

	if seg.Header.Flags.Has(packet.FlagFIN) {
		c.processFIN(seg, &out)
	}

	c.flushControl(&out)
	return out
}

// processACK applies the standard in-window ACK acceptance test
// (RFC 793 §3.9) including the Wl1/Wl2 window-update rule.
func (c *Connection) processACK(seg *packet.Packet, out *Outcome) {
	ack := seg.Header.Ack

	if seqLEUint32(c.sndUNA, ack) && seqLEUint32(ack, c.sndNXT) {
		newlyAcked := ack != c.sndUNA
		if newlyAcked {
			c.sndUNA = ack
			released := c.inFlight.RemoveCovered(ack)
			if len(released) > 0 {
				out.cancel(TimerRetransmit)
				c.retransmitAttempts = 0
				c.rtoPolicy.Reset()
				c.onNewAck(len(released))
				if !c.inFlight.Empty() {
					out.arm(TimerRetransmit, c.rto)
				}
			}
			c.dupAcks = 0
		} else {
			c.dupAcks++
			if c.dupAcks == DupAckThreshold {
				c.fastRetransmit(out)
			}
		}

		if seqLTUint32(c.sndWL1, seg.Header.Seq) ||
			(c.sndWL1 == seg.Header.Seq && seqLEUint32(c.sndWL2, ack)) {
			c.sndWND = uint32(seg.Header.Window)
			c.sndWL1 = seg.Header.Seq
			c.sndWL2 = ack
		}
	}

	switch c.state {
	case FinWait1:
		if ack == c.sndNXT {
			c.state = FinWait2
		}
	case Closing:
		if ack == c.sndNXT {
			c.state = TimeWait
			out.arm(TimerClose, TimeWaitDuration)
		}
	case LastAck:
		if ack == c.sndNXT {
			c.state = Closed
			out.Torn = true
		}
	}
}

func (c *Connection) onNewAck(segmentsReleased int) {
	if c.cwnd < c.ssthresh {
		c.cwnd += uint32(c.cfg.MSS) * uint32(segmentsReleased)
	} else {
		c.cwnd += uint32(c.cfg.MSS) * uint32(c.cfg.MSS) / c.cwnd
	}
}

func (c *Connection) fastRetransmit(out *Outcome) {
	c.ssthresh = max32(c.cwnd/2, MinSsthresh)
	c.cwnd = c.ssthresh
	if seg, ok := c.inFlight.Min(); ok {
		out.send(seg)
	}
}

func (c *Connection) processData(seg *packet.Packet, out *Outcome) {
	if c.recvBuf == nil {
		return
	}
	result := c.recvBuf.Accept(seg.Header.Seq, seg.Payload)
	if result == buffer.AcceptFull || result == buffer.AcceptDuplicate {
		return
	}
	c.rcvNXT = c.recvBuf.NextSeq()

	if !c.delayedACKPending {
		c.delayedACKPending = true
		out.arm(TimerDelayedACK, DelayedACKDelay)
	}
}

func (c *Connection) processFIN(seg *packet.Packet, out *Outcome) {
	if c.peerFINSeen {
		return
	}
	c.peerFINSeen = true
	c.peerFINSeq = seg.Header.Seq
	c.rcvNXT = seg.Header.Seq + 1

	ack := c.buildSegment(packet.FlagACK, c.sndNXT, c.rcvNXT, nil)
	c.sendControl(ack)

	switch c.state {
	case Established:
		c.state = CloseWait
	case FinWait1:
		c.state = Closing
	case FinWait2:
		c.state = TimeWait
		out.arm(TimerClose, TimeWaitDuration)
	}
}

// DelayedACKTimerFired flushes a standalone cumulative ACK.
func (c *Connection) DelayedACKTimerFired() Outcome {
	var out Outcome
	c.delayedACKPending = false
	if c.state == Closed {
		return out
	}
	c.sendControl(c.buildSegment(packet.FlagACK, c.sndNXT, c.rcvNXT, nil))
	c.flushControl(&out)
	return out
}

// RetransmitTimerFired resends the lowest-sequence unacked segment and
// backs off cwnd/ssthresh/rto per standard TCP loss recovery.
func (c *Connection) RetransmitTimerFired() Outcome {
	var out Outcome
	c.retransmitAttempts++
	if c.retransmitAttempts > MaxRetransmitAttempts {
		c.state = Closed
		return Outcome{Reset: true, Torn: true}
	}

	c.ssthresh = max32(c.sndWND/2, MinSsthresh)
	c.cwnd = InitialCwnd

	next, _ := c.rtoPolicy.NextBackOff()
	c.rto = next

	if seg, ok := c.inFlight.Min(); ok {
		out.send(seg)
	} else if c.state == SynSent || c.state == SynReceived {
		// Handshake segment itself lives in inFlight too, so this
		// branch only covers a defensive empty-set case.
		return out
	}
	out.arm(TimerRetransmit, c.rto)
	return out
}

// CloseTimerFired expires TIME-WAIT.
func (c *Connection) CloseTimerFired() Outcome {
	c.state = Closed
	return Outcome{Torn: true}
}

// Write appends to the send buffer; it does not itself emit segments —
// call Transmit to flush.
func (c *Connection) Write(data []byte) (int, error) {
	if c.closeInitiated {
		return 0, EPIPE
	}
	if c.state != Established && c.state != CloseWait {
		return 0, ENOTCONN
	}
	n := c.sendBuf.Write(data)
	if n == 0 && len(data) > 0 {
		return 0, EWOULDBLOCK
	}
	return n, nil
}

// Read drains in-order bytes from the receive buffer.
func (c *Connection) Read(buf []byte) (int, error) {
	if c.recvBuf == nil {
		return 0, ENOTCONN
	}
	n := c.recvBuf.Read(buf)
	if n == 0 {
		if c.peerFINSeen {
			return 0, nil
		}
		return 0, EWOULDBLOCK
	}
	return n, nil
}

// Transmit emits as many unsent bytes as the send/congestion window
// allows, each segment capped at the configured MSS.
func (c *Connection) Transmit() Outcome {
	var out Outcome
	if c.state != Established && c.state != CloseWait {
		return out
	}

	window := min32(c.sndWND, c.cwnd)
	for {
		inFlightBytes := c.sndNXT - c.sndUNA
		if inFlightBytes >= window {
			break
		}
		room := window - inFlightBytes
		chunkMax := min32(room, uint32(c.cfg.MSS))
		if chunkMax == 0 {
			break
		}

		unsent := c.sendBuf.Unsent()
		if len(unsent) == 0 {
			break
		}
		n := int(chunkMax)
		if n > len(unsent) {
			n = len(unsent)
		}
		payload := append([]byte(nil), unsent[:n]...)
		seg := c.buildSegment(packet.FlagACK, c.sndNXT, c.rcvNXT, payload)
		c.inFlight.Add(seg)
		c.sendBuf.Consume(n)
		c.sndNXT += uint32(n)
		out.send(seg)
		if len(out.Timers) == 0 {
			out.arm(TimerRetransmit, c.rto)
		}
	}
	return out
}

// Close initiates an active close by sending a FIN.
func (c *Connection) Close() Outcome {
	var out Outcome
	if c.closeInitiated {
		return out
	}
	c.closeInitiated = true

	fin := c.buildSegment(packet.FlagFIN|packet.FlagACK, c.sndNXT, c.rcvNXT, nil)
	c.inFlight.Add(fin)
	c.sndNXT++
	c.sendControl(fin)
	out.arm(TimerRetransmit, c.rto)

	switch c.state {
	case Established:
		c.state = FinWait1
	case CloseWait:
		c.state = LastAck
	}
	c.flushControl(&out)
	return out
}

// Readable reports whether a Read call would return data or EOF
// without blocking.
func (c *Connection) Readable() bool {
	if c.recvBuf == nil {
		return false
	}
	return c.recvBuf.Len() > 0 || c.peerFINSeen
}

// Writable reports whether a Write call would accept at least one byte.
func (c *Connection) Writable() bool {
	if c.sendBuf == nil {
		return false
	}
	return (c.state == Established || c.state == CloseWait) && c.sendBuf.Available() > 0
}

func seqLTUint32(a, b uint32) bool { return int32(a-b) < 0 }
func seqLEUint32(a, b uint32) bool { return int32(a-b) <= 0 }

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
