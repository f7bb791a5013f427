package builtin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupResolvesBundledPlugins(t *testing.T) {
	echo, ok := Lookup("echo")
	require.True(t, ok)
	require.NotNil(t, echo.NewInstance)
	require.NotNil(t, echo.SocketReadable)

	ping, ok := Lookup("ping")
	require.True(t, ok)
	require.NotNil(t, ping.NewInstance)
	require.NotNil(t, ping.SocketWritable)
}

func TestLookupReportsUnknownPath(t *testing.T) {
	_, ok := Lookup("/no/such/plugin.so")
	require.False(t, ok)
}
