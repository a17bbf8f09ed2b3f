package vclock

import (
	"sort"
	"time"
)

// PruneConfig controls periodic pruning of stale entries (spec §4.1).
type PruneConfig struct {
	MaxAge           time.Duration
	MaxSize          int
	PruneInterval    time.Duration
	KeepRecentAgents int
}

// DefaultPruneConfig returns sane defaults for a modest swarm.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		MaxAge:           24 * time.Hour,
		MaxSize:          1024,
		PruneInterval:    5 * time.Minute,
		KeepRecentAgents: 32,
	}
}

// Prune evicts entries older than cfg.MaxAge until the entry count is at
// most cfg.MaxSize, always retaining the owner entry and the
// cfg.KeepRecentAgents most recently seen entries regardless of age.
func (c *Clock) Prune(cfg PruneConfig) (evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	type idAge struct {
		id       AgentID
		lastSeen time.Time
	}
	ordered := make([]idAge, 0, len(c.entries))
	for id, e := range c.entries {
		ordered = append(ordered, idAge{id, e.lastSeen})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].lastSeen.After(ordered[j].lastSeen)
	})

	keep := make(map[AgentID]bool, len(ordered))
	keep[c.owner] = true
	for i, ia := range ordered {
		if i < cfg.KeepRecentAgents {
			keep[ia.id] = true
		}
		if cfg.MaxAge > 0 && now.Sub(ia.lastSeen) <= cfg.MaxAge {
			keep[ia.id] = true
		}
	}

	// If still over MaxSize, drop the oldest non-kept-by-recency entries
	// first (owner and recency-window entries are never evicted).
	if cfg.MaxSize > 0 && len(keep) > cfg.MaxSize {
		// Recompute keep honoring MaxSize: owner + the newest (MaxSize-1).
		keep = map[AgentID]bool{c.owner: true}
		budget := cfg.MaxSize - 1
		for _, ia := range ordered {
			if ia.id == c.owner {
				continue
			}
			if budget <= 0 {
				break
			}
			keep[ia.id] = true
			budget--
		}
	}

	for id := range c.entries {
		if !keep[id] {
			delete(c.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		c.lastUpdated = now
	}
	return evicted
}
