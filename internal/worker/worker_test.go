package worker

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-sim/shadow/internal/builtin"
	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/plugin"
	"github.com/shadow-sim/shadow/internal/simtime"
)

// fakeRouter is a minimal Router stand-in: no cross-host scheduling
// happens in these tests, only the local dispatch paths that don't
// need one.
type fakeRouter struct {
	log     *zap.SugaredLogger
	plugins map[string]*plugin.Plugin
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{log: zap.NewNop().Sugar(), plugins: make(map[string]*plugin.Plugin)}
}

func (r *fakeRouter) Schedule(origin simtime.Time, ev *event.Event, crossHost bool) {}
func (r *fakeRouter) LinkDelay(src, dst uint64, size int) (time.Duration, bool, error) {
	return 0, false, nil
}
func (r *fakeRouter) ResolveHostByAddr(ip netip.Addr) (uint64, bool) { return 0, false }
func (r *fakeRouter) LookupPlugin(name string) (*plugin.Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}
func (r *fakeRouter) ResolveName(name string) (string, bool) { return "", false }
func (r *fakeRouter) ResolveAddr(addr string) (string, bool) { return "", false }
func (r *fakeRouter) Log() *zap.SugaredLogger                { return r.log }

func TestRunHostStartsApplicationAndStopsOnKill(t *testing.T) {
	router := newFakeRouter()
	router.plugins["echo"] = plugin.Load("echo", builtin.EchoTable())

	h := host.New(1, "srv", netip.MustParseAddr("10.0.0.1"), 1)
	w := New(0, router)

	h.ScheduleLocal(&event.Event{
		Time:   simtime.FromDuration(0),
		HostID: h.ID,
		Kind:   event.KindStartApplication,
		Payload: event.StartApplication{
			PluginName: "echo",
			Arguments:  nil,
		},
	})
	h.ScheduleLocal(&event.Event{
		Time:    simtime.FromDuration(time.Second),
		HostID:  h.ID,
		Kind:    event.KindKillEngine,
		Payload: event.KillEngine{},
	})

	next := w.RunHost(h, simtime.FromDuration(2*time.Second))

	require.True(t, h.Killed)
	require.NotNil(t, h.Plugin, "echo's NewInstance should have bound an instance")
	require.Equal(t, simtime.Invalid, next)
}

func TestRunHostStopsApplicationWithoutKillingHost(t *testing.T) {
	router := newFakeRouter()
	router.plugins["echo"] = plugin.Load("echo", builtin.EchoTable())

	h := host.New(1, "srv", netip.MustParseAddr("10.0.0.1"), 1)
	w := New(0, router)

	h.ScheduleLocal(&event.Event{
		Time:   simtime.FromDuration(0),
		HostID: h.ID,
		Kind:   event.KindStartApplication,
		Payload: event.StartApplication{
			PluginName: "echo",
		},
	})
	h.ScheduleLocal(&event.Event{
		Time:    simtime.FromDuration(time.Second),
		HostID:  h.ID,
		Kind:    event.KindStopApplication,
		Payload: event.StopApplication{},
	})
	h.ScheduleLocal(&event.Event{
		Time:   simtime.FromDuration(2 * time.Second),
		HostID: h.ID,
		Kind:   event.KindDeferredCallback,
		Payload: event.DeferredCallback{Fn: func() {}},
	})

	next := w.RunHost(h, simtime.FromDuration(3*time.Second))

	require.False(t, h.Killed, "stopping one application must not set the host-wide kill flag")
	require.Nil(t, h.Plugin, "the stopped application's instance must be freed")
	require.Equal(t, simtime.Invalid, next, "the deferred callback scheduled after the stop must still have been drained")
}

func TestRunHostStopsAtBarrierWithoutDrainingFutureEvents(t *testing.T) {
	router := newFakeRouter()
	h := host.New(1, "h", netip.MustParseAddr("10.0.0.2"), 1)
	w := New(0, router)

	h.ScheduleLocal(&event.Event{
		Time:   simtime.FromDuration(5 * time.Second),
		HostID: h.ID,
		Kind:   event.KindDeferredCallback,
		Payload: event.DeferredCallback{Fn: func() {}},
	})

	next := w.RunHost(h, simtime.FromDuration(time.Second))

	require.False(t, h.Killed)
	require.Equal(t, simtime.FromDuration(5*time.Second), next)
}

func TestRunHostDrainsCancelledTimerWithoutPanicking(t *testing.T) {
	router := newFakeRouter()
	h := host.New(1, "h", netip.MustParseAddr("10.0.0.3"), 1)
	w := New(0, router)

	tok := &event.CancelToken{}
	tok.Cancel()
	h.ScheduleLocal(&event.Event{
		Time:   simtime.FromDuration(0),
		HostID: h.ID,
		Kind:   event.KindSocketPollTimerExpired,
		Payload: event.SocketPollTimerExpired{
			Cancel:   tok,
			SocketFD: 3,
		},
	})

	w.RunHost(h, simtime.FromDuration(time.Second))
	require.Equal(t, 0, h.Local.Len(), "the cancelled timer is still popped off the queue")
}
