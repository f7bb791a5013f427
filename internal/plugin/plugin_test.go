package plugin

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// counter simulates a plug-in's single global variable.
var counter int32

func testTable() Table {
	return Table{
		NewInstance: func(services *KernelServices, args []string) error {
			counter = 0
			services.RegisterGlobals(Span{Ptr: unsafe.Pointer(&counter), Size: unsafe.Sizeof(counter)})
			return nil
		},
	}
}

func TestPerHostSnapshotIsolatesGlobals(t *testing.T) {
	p := Load("echo", testTable())

	svcA := &KernelServices{}
	instA, err := p.NewInstance(1, svcA, nil)
	require.NoError(t, err)

	svcB := &KernelServices{}
	instB, err := p.NewInstance(2, svcB, nil)
	require.NoError(t, err)

	instA.SwitchIn()
	counter = 42
	instA.SwitchOut()

	instB.SwitchIn()
	require.EqualValues(t, 0, counter, "host B must not observe host A's global mutation")
	counter = 7
	instB.SwitchOut()

	instA.SwitchIn()
	require.EqualValues(t, 42, counter, "host A's snapshot must survive host B running in between")
	instA.SwitchOut()
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Load("tgen", Table{})))
	require.Error(t, r.Register(Load("tgen", Table{})))

	p, ok := r.Lookup("tgen")
	require.True(t, ok)
	require.Equal(t, "tgen", p.Name)
}

func TestLookupMissingPluginFails(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("missing")
	require.False(t, ok)
}
