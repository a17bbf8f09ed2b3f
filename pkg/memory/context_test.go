package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagateContextFiltersByRelevanceThreshold(t *testing.T) {
	update := ContextUpdate{
		Fields:             map[string]any{"summary": "ok", "raw_logs": "verbose dump"},
		RequiredCapability: map[string]string{"raw_logs": "debug"},
	}
	candidates := []AgentProfile{
		{AgentID: "high-trust", Capabilities: map[string]bool{"debug": true}, TrustLevel: 0.9, RecencyMatch: 0.9},
		{AgentID: "low-trust", Capabilities: map[string]bool{}, TrustLevel: 0.1, RecencyMatch: 0.1},
	}

	out := PropagateContext(update, candidates, PropagationOptions{RelevanceThreshold: 0.5, MaxTargets: 10})
	require.Len(t, out, 1)
	assert.Equal(t, "high-trust", out[0].TargetAgent)
	assert.Contains(t, out[0].Fields, "raw_logs")
}

func TestPropagateContextStripsUncapableFieldsAndDowngradesDetail(t *testing.T) {
	update := ContextUpdate{
		Fields:             map[string]any{"summary": "ok", "raw_logs": "verbose dump"},
		RequiredCapability: map[string]string{"raw_logs": "debug"},
	}
	candidates := []AgentProfile{
		{AgentID: "partial", Capabilities: map[string]bool{}, TrustLevel: 0.4, RecencyMatch: 0.3},
	}

	out := PropagateContext(update, candidates, PropagationOptions{RelevanceThreshold: 0, MaxTargets: 10})
	require.Len(t, out, 1)
	assert.NotContains(t, out[0].Fields, "raw_logs")
	assert.Contains(t, out[0].Fields, "summary")
	assert.Equal(t, "summary", out[0].Detail)
}

func TestPropagateContextCapsAtMaxTargetsSortedByRelevance(t *testing.T) {
	update := ContextUpdate{Fields: map[string]any{"x": 1}}
	candidates := []AgentProfile{
		{AgentID: "a", TrustLevel: 0.9, RecencyMatch: 0.9},
		{AgentID: "b", TrustLevel: 0.5, RecencyMatch: 0.5},
		{AgentID: "c", TrustLevel: 0.1, RecencyMatch: 0.1},
	}

	out := PropagateContext(update, candidates, PropagationOptions{MaxTargets: 2})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].TargetAgent)
	assert.Equal(t, "b", out[1].TargetAgent)
}
