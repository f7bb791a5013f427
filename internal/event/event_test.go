package event

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/simtime"
)

func TestQueueOrdersByTimeThenHostThenSeq(t *testing.T) {
	q := NewQueue()
	var seq Counter

	push := func(tm simtime.Time, host uint64) *Event {
		ev := &Event{Time: tm, HostID: host, Kind: KindSocketActivated}
		ev.seq = seq.Next()
		q.Push(ev)
		return ev
	}

	push(10, 2)
	first := push(10, 1)
	push(5, 9)
	push(10, 1) // same time+host as `first`, later seq

	got := []*Event{q.Pop(), q.Pop(), q.Pop(), q.Pop()}
	require.Equal(t, simtime.Time(5), got[0].Time)
	require.Equal(t, uint64(9), got[0].HostID)

	require.Equal(t, simtime.Time(10), got[1].Time)
	require.Equal(t, uint64(1), got[1].HostID)
	require.Same(t, first, got[1])

	require.Equal(t, simtime.Time(10), got[2].Time)
	require.Equal(t, uint64(1), got[2].HostID)

	require.Equal(t, simtime.Time(10), got[3].Time)
	require.Equal(t, uint64(2), got[3].HostID)
}

func TestPopBeforeRespectsBarrier(t *testing.T) {
	q := NewQueue()
	var seq Counter

	q.Push(&Event{Time: 5, HostID: 1, seq: seq.Next()})
	q.Push(&Event{Time: 15, HostID: 1, seq: seq.Next()})

	require.Equal(t, simtime.Time(5), q.PopBefore(10).Time)
	require.Nil(t, q.PopBefore(10))
	require.Equal(t, 1, q.Len())
	require.Equal(t, simtime.Time(15), q.PopBefore(20).Time)
}

func TestCancelToken(t *testing.T) {
	var tok *CancelToken
	require.False(t, tok.Cancelled())

	tok = &CancelToken{}
	require.False(t, tok.Cancelled())
	tok.Cancel()
	require.True(t, tok.Cancelled())
}
