package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/crdt"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
)

// AgentProfile describes a candidate agent for context propagation (spec
// §4.7 "Context propagation").
type AgentProfile struct {
	AgentID         string
	Capabilities    map[string]bool
	TrustLevel      float64 // [0,1]
	RecencyMatch    float64 // [0,1], how recently this agent interacted with the namespace
}

// PropagationOptions tunes a single context-propagation call.
type PropagationOptions struct {
	Priority           int
	RelevanceThreshold float64
	MaxTargets         int
	Namespace          string
}

// ContextUpdate is the payload being propagated; Fields maps a field name
// to the capability required to receive it at full "detail" level.
type ContextUpdate struct {
	Fields            map[string]any
	RequiredCapability map[string]string // field -> capability name
}

// relevance computes r = 0.5*capabilityMatch + 0.3*trustLevel +
// 0.2*recencyMatch (spec §4.7).
func relevance(profile AgentProfile, update ContextUpdate) float64 {
	total := len(update.RequiredCapability)
	matched := 0
	for field, cap := range update.RequiredCapability {
		_ = field
		if profile.Capabilities[cap] {
			matched++
		}
	}
	capabilityMatch := 1.0
	if total > 0 {
		capabilityMatch = float64(matched) / float64(total)
	}
	return 0.5*capabilityMatch + 0.3*profile.TrustLevel + 0.2*profile.RecencyMatch
}

// PersonalizedUpdate is a ContextUpdate tailored to one target agent.
type PersonalizedUpdate struct {
	TargetAgent string
	Relevance   float64
	Fields      map[string]any
	Detail      string // "detail" or "summary"
}

// PropagateContext selects candidates by relevance, personalizes the
// update per candidate (stripping fields the agent lacks capability for,
// downgrading detail below 0.6 relevance), and returns up to MaxTargets
// personalized updates sorted by descending relevance (spec §4.7).
func PropagateContext(update ContextUpdate, candidates []AgentProfile, opts PropagationOptions) []PersonalizedUpdate {
	scored := make([]PersonalizedUpdate, 0, len(candidates))
	for _, c := range candidates {
		r := relevance(c, update)
		if r < opts.RelevanceThreshold {
			continue
		}
		fields := make(map[string]any)
		for field, value := range update.Fields {
			cap, needsCap := update.RequiredCapability[field]
			if needsCap && !c.Capabilities[cap] {
				continue
			}
			fields[field] = value
		}
		detail := "detail"
		if r < 0.6 {
			detail = "summary"
		}
		scored = append(scored, PersonalizedUpdate{
			TargetAgent: c.AgentID,
			Relevance:   r,
			Fields:      fields,
			Detail:      detail,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })

	if opts.MaxTargets > 0 && opts.MaxTargets < len(scored) {
		scored = scored[:opts.MaxTargets]
	}
	return scored
}

// PropagateContext personalizes update for every peer this node currently
// knows about and pushes each selected peer's fields as a one-operation
// Delta Package (spec §4.7 "distribute via delta sync to top-maxTargets"),
// reusing the same CreateDeltaSync/ApplyDelta path anti-entropy sync
// replies travel.
func (m *Manager) PropagateContext(ctx context.Context, update ContextUpdate, opts PropagationOptions) ([]PersonalizedUpdate, error) {
	selected := PropagateContext(update, m.contextCandidates(), opts)
	for _, target := range selected {
		if err := m.pushContextDelta(ctx, target, opts.Namespace); err != nil {
			m.log.Warn("context propagation delta failed", "target", target.TargetAgent, "error", err)
		}
	}
	return selected, nil
}

// contextCandidates builds an AgentProfile per active gossip peer, pulling
// trust from the peer's measured gossip reliability and capabilities from
// the agent registry (if one was installed via SetAgentRegistry).
func (m *Manager) contextCandidates() []AgentProfile {
	nodes := m.proto.Table().Active()
	now := time.Now()

	m.agentsMu.RLock()
	reg := m.agents
	m.agentsMu.RUnlock()

	profiles := make([]AgentProfile, 0, len(nodes))
	for _, n := range nodes {
		recency := 1.0
		if age := now.Sub(n.LastSeen); age > 0 {
			recency = math.Max(0, 1-age.Seconds()/60)
		}
		caps := map[string]bool{}
		if reg != nil {
			if agent, err := reg.Get(n.AgentID); err == nil {
				for k := range agent.Metadata {
					caps[k] = true
				}
			}
		}
		profiles = append(profiles, AgentProfile{
			AgentID:      n.AgentID,
			Capabilities: caps,
			TrustLevel:   n.Reliability,
			RecencyMatch: recency,
		})
	}
	return profiles
}

// anyToMetaValue converts a context field value (an arbitrary Go value, as
// ContextUpdate.Fields carries them) into the MetaValue representation the
// rest of this package stores and replicates.
func anyToMetaValue(v any) types.MetaValue {
	switch t := v.(type) {
	case nil:
		return types.NullValue()
	case types.MetaValue:
		return t
	case bool:
		return types.BoolValue(t)
	case string:
		return types.StringValue(t)
	case int:
		return types.IntValue(int64(t))
	case int64:
		return types.IntValue(t)
	case float64:
		return types.FloatValue(t)
	case []byte:
		return types.BytesValue(t)
	case []any:
		list := make([]types.MetaValue, len(t))
		for i, e := range t {
			list[i] = anyToMetaValue(e)
		}
		return types.ListValue(list)
	case map[string]any:
		m := make(map[string]types.MetaValue, len(t))
		for k, e := range t {
			m[k] = anyToMetaValue(e)
		}
		return types.MapValue(m)
	default:
		return types.StringValue(fmt.Sprint(t))
	}
}

// pushContextDelta wraps target's personalized fields in a single crdt
// operation under "<namespace>:context" and ships it to target as a Delta
// Package over a direct (non-fanout) send.
func (m *Manager) pushContextDelta(ctx context.Context, target PersonalizedUpdate, namespace string) error {
	fields := make(map[string]types.MetaValue, len(target.Fields))
	for k, v := range target.Fields {
		fields[k] = anyToMetaValue(v)
	}
	value := types.MapValue(fields)

	ns := namespace
	if ns == "" {
		ns = "default"
	}
	op := crdt.Operation{
		Type:  crdt.OpSet,
		Key:   ns + ":context",
		Value: value,
		Clock: m.clock,
		Agent: m.agentID,
	}

	delta, err := CreateDeltaSync(string(m.agentID), target.TargetAgent, []crdt.Operation{op}, m.clock.Version(), m.compressor, m.encodeCrdtOp)
	if err != nil {
		return err
	}
	payload, err := encodeDelta(delta)
	if err != nil {
		return err
	}
	return m.proto.SendDirect(ctx, target.TargetAgent, gossip.Message{Type: gossip.MessageSyncReply, Payload: payload})
}
