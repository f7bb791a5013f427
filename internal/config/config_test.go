package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidOnceATopologyFileIsSet(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "no topology files yet")

	cfg.TopologyFiles = []string{"topology.xml"}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveWorkerThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopologyFiles = []string{"topology.xml"}
	cfg.WorkerThreads = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMinTimeJump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopologyFiles = []string{"topology.xml"}
	cfg.MinTimeJump = 0
	require.Error(t, cfg.Validate())
}

func TestLoadConfigWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig("/no/such/config.yaml")
	require.Error(t, err)
}

func TestLoadConfigOverlaysYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workerThreads: 4\nseed: 7\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkerThreads)
	require.Equal(t, uint64(7), cfg.Seed)
	require.Equal(t, DefaultConfig().MinTimeJump, cfg.MinTimeJump, "fields absent from the file keep their default")
}
