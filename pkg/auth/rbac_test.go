package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Agent{ID: "a1", Role: RoleAgent, Active: true}))

	agent, err := r.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, agent.Role)
	assert.True(t, agent.Active)

	err = r.Register(&Agent{ID: "a1", Role: RoleAdmin})
	assert.Error(t, err)
}

func TestRegistrySetActiveAndRole(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Agent{ID: "a1", Role: RoleAgent, Active: true}))

	require.NoError(t, r.SetActive("a1", false))
	agent, err := r.Get("a1")
	require.NoError(t, err)
	assert.False(t, agent.Active)

	require.NoError(t, r.SetRole("a1", RoleAdmin))
	agent, _ = r.Get("a1")
	assert.Equal(t, RoleAdmin, agent.Role)

	assert.Error(t, r.SetActive("missing", true))
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Agent{ID: "a1", Role: RoleAgent}))
	require.NoError(t, r.Register(&Agent{ID: "a2", Role: RoleReadonly}))

	assert.Len(t, r.List(), 2)
}
