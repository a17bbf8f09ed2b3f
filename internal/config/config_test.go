package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigFillsSections(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.AgentID)
	assert.NotZero(t, cfg.Gossip.Fanout)
	assert.NotZero(t, cfg.Sharding.VirtualNodes)
	assert.NotZero(t, cfg.VectorClock.Pruning.MaxAge)
	assert.Equal(t, "jwt", cfg.Auth.Method)
}

func TestLoadConfigOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_id: agent-7\ngossip:\n  fanout: 6\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", cfg.AgentID)
	assert.Equal(t, 6, cfg.Gossip.Fanout)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().AgentID, cfg.AgentID)
}
