// Package conflict implements the conflict resolver (spec §4.4, C4): a
// registry of named strategies dispatched by conflict type, operational
// transform for concurrent edit sequences, and resolution statistics.
//
// Grounded on pkg/models/conflict_resolvers.go's CanResolve/Resolve/
// GetPriority/GetName resolver shape, generalized per spec §7's redesign
// flag "replace deep inheritance with a registry of strategy functions
// keyed by enum; custom strategies register via an interface
// ConflictStrategy{canHandle, resolve} rather than subclassing."
package conflict

import "time"

// Strategy names a conflict resolution approach (spec §4.4).
type Strategy string

const (
	StrategyLWW         Strategy = "lww"
	StrategyMVR         Strategy = "mvr"
	StrategySemantic    Strategy = "semantic"
	StrategyPriority    Strategy = "priority"
	StrategyOperational Strategy = "operational"
	StrategyCustom      Strategy = "custom"
	StrategyManual      Strategy = "manual"
	StrategyUnion       Strategy = "union"
	StrategyIntersection Strategy = "intersection"
)

// Conflict describes two concurrent writes to the same key that need
// resolving.
type Conflict struct {
	ID            string
	Key           string
	LocalValue    any
	RemoteValue   any
	LocalAgent    string
	RemoteAgent   string
	LocalClock    map[string]uint64
	RemoteClock   map[string]uint64
	LocalAt       time.Time
	RemoteAt      time.Time
	Metadata      map[string]string
	SchemaPolicy  *FieldPolicy // optional, drives semantic-merge numeric/array rules
}

// FieldPolicy supplies schema-driven hints for the semantic strategy.
type FieldPolicy struct {
	ArrayIdentityKey string            // element identity key for array union; "" means concatenate-uniquely
	NumberPolicy     NumberMergePolicy // how to merge conflicting numeric fields
}

// NumberMergePolicy selects how conflicting numeric fields are merged.
type NumberMergePolicy int

const (
	NumberMax NumberMergePolicy = iota
	NumberMin
	NumberAvg
	NumberLWW
)

// Resolution is the output of resolving a conflict (spec §4.4 "Output").
type Resolution struct {
	ResolutionID         string
	Strategy             Strategy
	ResolvedValue        any
	Confidence           float64
	Reasoning            string
	AppliedTransforms    []Edit
	AlternativeValues    []any
	RequiresManualReview bool
	Timestamp            time.Time
	ResolverAgent        string
}
