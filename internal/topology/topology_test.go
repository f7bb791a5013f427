package topology

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

func TestConstantCDFAlwaysSamplesSameValue(t *testing.T) {
	c := Constant(50 * time.Millisecond)
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10; i++ {
		require.Equal(t, 50*time.Millisecond, c.Sample(r))
	}
}

func TestGeneratedCDFStaysWithinTail(t *testing.T) {
	c, err := GenerateCDF(100*time.Millisecond, 10*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(7, 9))
	for i := 0; i < 1000; i++ {
		v := c.Sample(r)
		require.GreaterOrEqual(t, v, time.Duration(0))
		require.LessOrEqual(t, v, 200*time.Millisecond)
	}
}

func TestWeaklyConnectedDetectsIsolatedNetwork(t *testing.T) {
	g := NewInternetwork()
	require.NoError(t, g.AddNetwork("A", Constant(time.Millisecond)))
	require.NoError(t, g.AddNetwork("B", Constant(time.Millisecond)))
	require.NoError(t, g.AddNetwork("C", Constant(time.Millisecond)))

	_, err := g.AddLink("A", "B", Constant(10*time.Millisecond), 0)
	require.NoError(t, err)

	require.False(t, g.IsWeaklyConnected(), "C is isolated")

	_, err = g.AddLink("B", "C", Constant(10*time.Millisecond), 0)
	require.NoError(t, err)
	require.True(t, g.IsWeaklyConnected())
}

func TestDeltaMinFloorsAtZeroLatencyLink(t *testing.T) {
	g := NewInternetwork()
	require.NoError(t, g.AddNetwork("A", Constant(0)))
	require.NoError(t, g.AddNetwork("B", Constant(0)))
	_, err := g.AddLink("A", "B", Constant(0), 0)
	require.NoError(t, err)

	d, err := g.DeltaMin(5 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 5*time.Millisecond, d)
}

func TestSerializationDelayUsesBottleneckBandwidth(t *testing.T) {
	// datasize.MB is 1<<20 bytes, so 1<<20 bytes at a 1 MB bottleneck is one second.
	d := SerializationDelay(1<<20, 1*datasize.MB, 2*datasize.MB)
	require.Equal(t, time.Second, d)
}
