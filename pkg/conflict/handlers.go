package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// lwwHandler resolves by comparing timestamps, tie-breaking on agent id,
// mirroring pkg/crdt.LWWRegister's merge rule.
type lwwHandler struct{}

func (lwwHandler) Name() Strategy { return StrategyLWW }
func (lwwHandler) Priority() int  { return 80 }
func (lwwHandler) CanHandle(c *Conflict) bool {
	return !c.LocalAt.IsZero() && !c.RemoteAt.IsZero()
}
func (lwwHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	useRemote := c.RemoteAt.After(c.LocalAt) ||
		(c.RemoteAt.Equal(c.LocalAt) && c.RemoteAgent < c.LocalAgent)

	value := c.LocalValue
	agent := c.LocalAgent
	if useRemote {
		value = c.RemoteValue
		agent = c.RemoteAgent
	}
	return &Resolution{
		ResolutionID:  uuid.NewString(),
		Strategy:      StrategyLWW,
		ResolvedValue: value,
		Confidence:    1.0,
		Reasoning:     fmt.Sprintf("last-write-wins: %s had the later (or tie-break winning) write", agent),
		ResolverAgent: agent,
		Timestamp:     time.Now(),
	}, nil
}

// mvrHandler keeps both concurrent values as siblings, requiring the
// caller to present them to the application for manual reconciliation.
type mvrHandler struct{}

func (mvrHandler) Name() Strategy             { return StrategyMVR }
func (mvrHandler) Priority() int              { return 60 }
func (mvrHandler) CanHandle(c *Conflict) bool { return true }
func (mvrHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	return &Resolution{
		ResolutionID:      uuid.NewString(),
		Strategy:          StrategyMVR,
		ResolvedValue:     c.LocalValue,
		AlternativeValues: []any{c.RemoteValue},
		Confidence:        0.5,
		Reasoning:         "multi-value register: both concurrent writes retained as siblings",
		Timestamp:         time.Now(),
	}, nil
}

// semanticHandler recursively merges object/array/string/number values
// (spec §4.4).
type semanticHandler struct{}

func (semanticHandler) Name() Strategy { return StrategySemantic }
func (semanticHandler) Priority() int  { return 90 }
func (semanticHandler) CanHandle(c *Conflict) bool {
	_, localIsMap := c.LocalValue.(map[string]any)
	_, remoteIsMap := c.RemoteValue.(map[string]any)
	return localIsMap && remoteIsMap
}
func (semanticHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	merged := mergeSemantic(c.LocalValue, c.RemoteValue, c.SchemaPolicy)
	return &Resolution{
		ResolutionID:  uuid.NewString(),
		Strategy:      StrategySemantic,
		ResolvedValue: merged,
		Confidence:    0.85,
		Reasoning:     "recursively merged object fields, arrays, and strings",
		Timestamp:     time.Now(),
	}, nil
}

// priorityHandler resolves by a configurable per-agent priority ranking
// (higher wins), falling back to LWW when neither agent has a ranking.
type priorityHandler struct {
	agentPriority map[string]int
}

// SetAgentPriority assigns agent a priority rank; higher wins ties.
func (p *priorityHandler) SetAgentPriority(agent string, priority int) {
	p.agentPriority[agent] = priority
}

func (priorityHandler) Name() Strategy { return StrategyPriority }
func (priorityHandler) Priority() int  { return 70 }
func (p *priorityHandler) CanHandle(c *Conflict) bool {
	_, lok := p.agentPriority[c.LocalAgent]
	_, rok := p.agentPriority[c.RemoteAgent]
	return lok || rok
}
func (p *priorityHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	lp := p.agentPriority[c.LocalAgent]
	rp := p.agentPriority[c.RemoteAgent]

	value, agent := c.LocalValue, c.LocalAgent
	if rp > lp {
		value, agent = c.RemoteValue, c.RemoteAgent
	}
	return &Resolution{
		ResolutionID:  uuid.NewString(),
		Strategy:      StrategyPriority,
		ResolvedValue: value,
		Confidence:    0.9,
		Reasoning:     fmt.Sprintf("agent %s has the higher configured priority", agent),
		ResolverAgent: agent,
		Timestamp:     time.Now(),
	}, nil
}

// operationalHandler transforms concurrent edit sequences via OT (spec
// §4.4). It expects both values to be []Edit; any other shape is rejected
// by CanHandle so the registry falls through to another strategy.
type operationalHandler struct{}

func (operationalHandler) Name() Strategy { return StrategyOperational }
func (operationalHandler) Priority() int  { return 95 }
func (operationalHandler) CanHandle(c *Conflict) bool {
	_, lok := c.LocalValue.([]Edit)
	_, rok := c.RemoteValue.([]Edit)
	return lok && rok
}
func (operationalHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	local := c.LocalValue.([]Edit)
	remote := c.RemoteValue.([]Edit)
	transformed := TransformSequence(local, remote)
	return &Resolution{
		ResolutionID:      uuid.NewString(),
		Strategy:          StrategyOperational,
		ResolvedValue:     transformed,
		AppliedTransforms: transformed,
		Confidence:        0.95,
		Reasoning:         "transformed local edits against concurrent remote edits",
		Timestamp:         time.Now(),
	}, nil
}

// unionHandler merges two sets/maps by union.
type unionHandler struct{}

func (unionHandler) Name() Strategy { return StrategyUnion }
func (unionHandler) Priority() int  { return 65 }
func (unionHandler) CanHandle(c *Conflict) bool {
	return setLike(c.LocalValue) && setLike(c.RemoteValue)
}
func (unionHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	local := asSet(c.LocalValue)
	remote := asSet(c.RemoteValue)
	out := make(map[string]bool, len(local)+len(remote))
	for k := range local {
		out[k] = true
	}
	for k := range remote {
		out[k] = true
	}
	return &Resolution{
		ResolutionID:  uuid.NewString(),
		Strategy:      StrategyUnion,
		ResolvedValue: setToSlice(out),
		Confidence:    1.0,
		Reasoning:     "union of both sets",
		Timestamp:     time.Now(),
	}, nil
}

// intersectionHandler keeps only elements present in both sets/maps.
type intersectionHandler struct{}

func (intersectionHandler) Name() Strategy { return StrategyIntersection }
func (intersectionHandler) Priority() int  { return 65 }
func (intersectionHandler) CanHandle(c *Conflict) bool {
	return setLike(c.LocalValue) && setLike(c.RemoteValue)
}
func (intersectionHandler) Resolve(_ context.Context, c *Conflict) (*Resolution, error) {
	local := asSet(c.LocalValue)
	remote := asSet(c.RemoteValue)
	out := make(map[string]bool)
	for k := range local {
		if remote[k] {
			out[k] = true
		}
	}
	return &Resolution{
		ResolutionID:  uuid.NewString(),
		Strategy:      StrategyIntersection,
		ResolvedValue: setToSlice(out),
		Confidence:    1.0,
		Reasoning:     "intersection of both sets",
		Timestamp:     time.Now(),
	}, nil
}

func setLike(v any) bool {
	switch v.(type) {
	case []string, map[string]bool:
		return true
	default:
		return false
	}
}

func asSet(v any) map[string]bool {
	out := make(map[string]bool)
	switch vv := v.(type) {
	case []string:
		for _, s := range vv {
			out[s] = true
		}
	case map[string]bool:
		for k, b := range vv {
			if b {
				out[k] = true
			}
		}
	}
	return out
}

func setToSlice(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}
