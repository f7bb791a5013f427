package xmlcfg

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/shadow/internal/config"
)

func TestDecodeProducesActionsInDocumentOrder(t *testing.T) {
	doc := `<shadow>
		<plugin name="echo" path="echo"/>
		<network name="lan" subnet="10.0.0.0/24" packetloss="0.01"/>
		<node name="server" network="lan" ip="10.0.0.1">
			<application plugin="echo" starttime="0" stoptime="60"/>
		</node>
		<node name="client" network="lan" ip="10.0.0.2" quantity="2"/>
	</shadow>`

	actions, err := decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, actions, 5, "plugin + network + server + 2 expanded clients")

	plugin, ok := actions[0].(config.LoadPluginAction)
	require.True(t, ok)
	require.Equal(t, "echo", plugin.Name)

	network, ok := actions[1].(config.CreateNetworkAction)
	require.True(t, ok)
	require.Equal(t, "10.0.0.0/24", network.Subnet)
	require.Equal(t, 0.01, network.PacketLoss)

	server, ok := actions[2].(config.CreateNodeAction)
	require.True(t, ok)
	require.Equal(t, "server", server.Name)
	require.NotNil(t, server.Application)
	require.Equal(t, "echo", server.Application.Plugin)
	require.Equal(t, 60*time.Second, server.Application.StopTime)

	client1, ok := actions[3].(config.CreateNodeAction)
	require.True(t, ok)
	require.Equal(t, "client1", client1.Name)
	require.Equal(t, "10.0.0.2", client1.IP)

	client2, ok := actions[4].(config.CreateNodeAction)
	require.True(t, ok)
	require.Equal(t, "client2", client2.Name)
	require.Equal(t, "10.0.0.3", client2.IP)
}

func TestLinkShorthandAppliesSymmetricLatencyAndReliability(t *testing.T) {
	doc := `<link networka="a" networkb="b" latency="20" reliability="0.99"/>`

	actions, err := decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, actions, 1)

	link := actions[0].(config.ConnectNetworksAction)
	require.Equal(t, 20*time.Millisecond, link.LatencyAB)
	require.Equal(t, 20*time.Millisecond, link.LatencyBA)
	require.InDelta(t, 0.01, link.LossAB, 1e-9)
	require.InDelta(t, 0.01, link.LossBA, 1e-9)
}

func TestLinkAsymmetricFieldsOverrideShorthand(t *testing.T) {
	doc := `<link networka="a" networkb="b" latencyab="5" latencyba="15" reliabilityab="1.0" reliabilityba="0.5"/>`

	actions, err := decode(strings.NewReader(doc))
	require.NoError(t, err)

	link := actions[0].(config.ConnectNetworksAction)
	require.Equal(t, 5*time.Millisecond, link.LatencyAB)
	require.Equal(t, 15*time.Millisecond, link.LatencyBA)
	require.InDelta(t, 0.0, link.LossAB, 1e-9)
	require.InDelta(t, 0.5, link.LossBA, 1e-9)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/no/such/topology.xml")
	require.Error(t, err)
}

func TestCDFExplicitPathFallsBackToConstantLatencyAction(t *testing.T) {
	doc := `<cdf name="wan" path="wan.cdf"/>`

	actions, err := decode(strings.NewReader(doc))
	require.NoError(t, err)

	want := config.CDFAction{Name: "wan", Center: time.Millisecond, Width: 0, Tail: time.Millisecond}
	if diff := cmp.Diff(want, actions[0]); diff != "" {
		t.Errorf("unexpected action (-want +got):\n%s", diff)
	}
}
