package epoll

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/bitset"
)

func TestLevelTriggeredReportsWhileReady(t *testing.T) {
	readable := &bitset.TinyBitset{}
	writable := &bitset.TinyBitset{}
	inst := NewInstance(readable, writable, 1000)

	require.NoError(t, inst.Ctl(CtlAdd, 1000, In))
	require.Empty(t, inst.Wait())

	inst.SetReadable(1000, true)
	got := inst.Wait()
	require.Len(t, got, 1)
	require.Equal(t, 1000, got[0].FD)
	require.Equal(t, In, got[0].Events)

	// Level-triggered: still ready next call.
	got = inst.Wait()
	require.Len(t, got, 1)
}

func TestEdgeTriggeredReportsOnce(t *testing.T) {
	readable := &bitset.TinyBitset{}
	writable := &bitset.TinyBitset{}
	inst := NewInstance(readable, writable, 1000)

	require.NoError(t, inst.Ctl(CtlAdd, 1000, In|Edge))
	inst.SetReadable(1000, true)

	require.Len(t, inst.Wait(), 1)
	require.Empty(t, inst.Wait(), "edge-triggered must not re-report without a transition")

	inst.SetReadable(1000, false)
	inst.SetReadable(1000, true)
	require.Len(t, inst.Wait(), 1, "a fresh not-ready->ready transition reports again")
}

func TestCtlDelStopsReporting(t *testing.T) {
	readable := &bitset.TinyBitset{}
	writable := &bitset.TinyBitset{}
	inst := NewInstance(readable, writable, 1000)

	require.NoError(t, inst.Ctl(CtlAdd, 1000, In))
	inst.SetReadable(1000, true)
	require.NoError(t, inst.Ctl(CtlDel, 1000, 0))
	require.Empty(t, inst.Wait())
}

func TestCtlAddDuplicateFails(t *testing.T) {
	readable := &bitset.TinyBitset{}
	writable := &bitset.TinyBitset{}
	inst := NewInstance(readable, writable, 1000)

	require.NoError(t, inst.Ctl(CtlAdd, 1000, In))
	require.Error(t, inst.Ctl(CtlAdd, 1000, In))
}
