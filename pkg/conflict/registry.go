package conflict

import "context"

// Handler is the interface a registered strategy implements (spec §7
// redesign: "custom strategies register via an interface
// ConflictStrategy{canHandle(ctx), resolve(ctx)} rather than subclassing").
type Handler interface {
	CanHandle(c *Conflict) bool
	Resolve(ctx context.Context, c *Conflict) (*Resolution, error)
	Name() Strategy
	Priority() int
}

// Registry holds strategy handlers keyed by name and dispatches by
// descending priority among those that CanHandle a given conflict,
// mirroring pkg/models/conflict_resolvers.go's GetPriority-ordered
// resolver chain.
type Registry struct {
	handlers map[Strategy]Handler
	order    []Strategy
}

// NewRegistry builds a registry pre-populated with the built-in strategies
// (lww, mvr, semantic, priority, operational, union, intersection). manual
// is handled by Resolver directly, not registered here.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[Strategy]Handler)}
	for _, h := range []Handler{
		&lwwHandler{},
		&mvrHandler{},
		&semanticHandler{},
		&priorityHandler{agentPriority: map[string]int{}},
		&operationalHandler{},
		&unionHandler{},
		&intersectionHandler{},
	} {
		r.Register(h)
	}
	return r
}

// Register adds or replaces a handler, allowing callers to supply a custom
// strategy (spec: "custom" strategy) or override a built-in one.
func (r *Registry) Register(h Handler) {
	if _, exists := r.handlers[h.Name()]; !exists {
		r.order = append(r.order, h.Name())
	}
	r.handlers[h.Name()] = h
}

// Get returns the handler registered under name, if any.
func (r *Registry) Get(name Strategy) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Dispatch finds the highest-priority handler that can resolve c, in
// registration order broken by descending Priority().
func (r *Registry) Dispatch(ctx context.Context, c *Conflict, preferred Strategy) (*Resolution, error) {
	if preferred != "" {
		if h, ok := r.handlers[preferred]; ok && h.CanHandle(c) {
			return h.Resolve(ctx, c)
		}
	}

	var best Handler
	for _, name := range r.order {
		h := r.handlers[name]
		if !h.CanHandle(c) {
			continue
		}
		if best == nil || h.Priority() > best.Priority() {
			best = h
		}
	}
	if best == nil {
		return &Resolution{
			Strategy:             StrategyManual,
			RequiresManualReview: true,
			Reasoning:            "no registered strategy could handle this conflict",
		}, nil
	}
	return best.Resolve(ctx, c)
}
