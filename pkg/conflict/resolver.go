package conflict

import (
	"context"
	"sync"
	"time"
)

// Stats tracks resolver-wide counters (spec §4.4 "Stats tracked").
type Stats struct {
	Total           int
	Resolved        int
	Pending         int
	ManualReview    int
	PerStrategy     map[Strategy]int
	totalResolveDur time.Duration
	TotalSyncs      int
	OpsPerSync      float64
}

// AverageResolutionTime returns the mean time spent resolving, zero if
// nothing has resolved yet.
func (s Stats) AverageResolutionTime() time.Duration {
	if s.Resolved == 0 {
		return 0
	}
	return s.totalResolveDur / time.Duration(s.Resolved)
}

// ConflictRate follows the source's formula verbatim (spec §7 open
// question: "conflictRate = conflictsResolved / (totalSyncs * 10) — the
// constant 10 is unexplained... keep configurable"). RateConstant defaults
// to 10 to match observed behavior; override it if a deployment's
// totalSyncs/opsPerSync accounting differs.
const DefaultRateConstant = 10

func (s Stats) ConflictRate(rateConstant float64) float64 {
	if rateConstant <= 0 {
		rateConstant = DefaultRateConstant
	}
	if s.TotalSyncs == 0 {
		return 0
	}
	return float64(s.Resolved) / (float64(s.TotalSyncs) * rateConstant)
}

// Resolver is the top-level entry point the memory manager calls on every
// detected concurrent conflict (spec §4.2 step "if concurrent ⇒ invoke
// C4").
type Resolver struct {
	mu           sync.Mutex
	registry     *Registry
	stats        Stats
	queue        *ManualReviewQueue
	RateConstant float64
}

// NewResolver creates a Resolver with a default registry and manual-review
// queue.
func NewResolver() *Resolver {
	return &Resolver{
		registry:     NewRegistry(),
		stats:        Stats{PerStrategy: make(map[Strategy]int)},
		queue:        NewManualReviewQueue(),
		RateConstant: DefaultRateConstant,
	}
}

// Registry exposes the underlying strategy registry so callers can
// register custom strategies or set agent priorities.
func (r *Resolver) Registry() *Registry { return r.registry }

// Queue exposes the manual-review queue.
func (r *Resolver) Queue() *ManualReviewQueue { return r.queue }

// Resolve dispatches c to the registry (honoring preferred if supplied, a
// namespace's configured conflictStrategy), updating stats and queuing for
// manual review when required. A preferred strategy of manual bypasses the
// registry: the conflict is queued for review with the local value kept.
func (r *Resolver) Resolve(ctx context.Context, c *Conflict, preferred Strategy) (*Resolution, error) {
	start := time.Now()

	var res *Resolution
	var err error
	if preferred == StrategyManual {
		res = &Resolution{
			Strategy:             StrategyManual,
			ResolvedValue:        c.LocalValue,
			RequiresManualReview: true,
			Reasoning:            "manual strategy selected; local value kept pending review",
			Timestamp:            time.Now(),
		}
	} else {
		res, err = r.registry.Dispatch(ctx, c, preferred)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Total++
	if err != nil {
		return nil, err
	}
	if res.RequiresManualReview {
		r.stats.Pending++
		r.stats.ManualReview++
		r.queue.Enqueue(c, res)
	} else {
		r.stats.Resolved++
		r.stats.totalResolveDur += time.Since(start)
	}
	r.stats.PerStrategy[res.Strategy]++
	return res, nil
}

// RecordSync updates the denominator counters used by ConflictRate; the
// memory manager calls this once per anti-entropy sync round.
func (r *Resolver) RecordSync(opsInSync int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TotalSyncs++
	if r.stats.TotalSyncs > 0 {
		r.stats.OpsPerSync = (r.stats.OpsPerSync*float64(r.stats.TotalSyncs-1) + float64(opsInSync)) / float64(r.stats.TotalSyncs)
	}
}

// Stats returns a snapshot of the resolver's counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.stats
	cp.PerStrategy = make(map[Strategy]int, len(r.stats.PerStrategy))
	for k, v := range r.stats.PerStrategy {
		cp.PerStrategy[k] = v
	}
	return cp
}
