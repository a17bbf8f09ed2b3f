package auth

import (
	"fmt"
	"sync"
)

// Agent is a registered identity allowed to call the API: an agent ID,
// its role, and whether it's currently active. Fine-grained
// namespace/permission enforcement happens downstream in
// memory.Manager.authorize (spec §4.7's accessControl{roles→ops}); this
// registry only answers "is this agent known, and what role do they
// claim" for the JWT-authenticated request path.
type Agent struct {
	ID       string            `json:"id"`
	Role     string            `json:"role"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Active   bool              `json:"active"`
}

// Registry is a mutex-guarded map of known agents, grounded on the
// teacher's RBAC user store (same CRUD-under-RWMutex shape, trimmed of
// the generic permission catalog that memory.NamespacePolicy now owns).
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds a new agent. Re-registering an existing ID is an error;
// use SetActive/SetRole to change state on a live agent.
func (r *Registry) Register(agent *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("agent %s already registered", agent.ID)
	}
	r.agents[agent.ID] = agent
	return nil
}

// Get retrieves an agent by ID.
func (r *Registry) Get(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	return agent, nil
}

// SetActive flips an agent's active flag.
func (r *Registry) SetActive(agentID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("agent %s not found", agentID)
	}
	agent.Active = active
	return nil
}

// SetRole reassigns an agent's role.
func (r *Registry) SetRole(agentID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("agent %s not found", agentID)
	}
	agent.Role = role
	return nil
}

// List returns every registered agent.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	return agents
}
