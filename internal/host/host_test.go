package host

import (
	"net/netip"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/tcp"
)

func newTestHost(t *testing.T, id uint64) *Host {
	t.Helper()
	return New(id, "h", netip.MustParseAddr("10.0.0.1"), 42)
}

func TestScheduleLocalAssignsIncreasingSeq(t *testing.T) {
	h := newTestHost(t, 1)

	a := &event.Event{Time: simtime.FromDuration(0), HostID: h.ID, Kind: event.KindDeferredCallback}
	b := &event.Event{Time: simtime.FromDuration(0), HostID: h.ID, Kind: event.KindDeferredCallback}
	h.ScheduleLocal(a)
	h.ScheduleLocal(b)

	require.Less(t, a.Seq(), b.Seq())
	require.Equal(t, 2, h.Local.Len())
	require.Same(t, a, h.Local.Pop())
	require.Same(t, b, h.Local.Pop())
}

func TestDrainMailMovesMailboxIntoLocalQueue(t *testing.T) {
	h := newTestHost(t, 1)

	h.Mail(&event.Event{Time: simtime.FromDuration(5), HostID: h.ID, Kind: event.KindPacketArrived})
	require.Equal(t, 0, h.Local.Len(), "mail is not visible until drained")

	h.DrainMail()
	require.Equal(t, 1, h.Local.Len())
}

func TestArmTimerCancelsPreviouslyArmedTimerOfSameKind(t *testing.T) {
	h := newTestHost(t, 1)

	first := h.ArmTimer(3, tcp.TimerRetransmit)
	require.False(t, first.Cancelled())

	second := h.ArmTimer(3, tcp.TimerRetransmit)
	require.True(t, first.Cancelled(), "arming a replacement timer cancels the old one")
	require.False(t, second.Cancelled())
}

func TestCancelTimerIsNoOpWithoutAnArmedTimer(t *testing.T) {
	h := newTestHost(t, 1)
	h.CancelTimer(99, tcp.TimerRetransmit)
}

func TestCPUDelayIsZeroWithoutCPUSpeed(t *testing.T) {
	h := newTestHost(t, 1)
	require.Equal(t, uint64(0), h.CPUDelay(1_000_000))
}

func TestCPUDelayScalesWithCPUSpeed(t *testing.T) {
	h := newTestHost(t, 1)
	h.CPUSpeed = 1 * datasize.MB

	ns := h.CPUDelay(1_000_000)
	require.Greater(t, ns, uint64(0))
}
