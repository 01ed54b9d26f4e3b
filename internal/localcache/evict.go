package localcache

import (
	"sync/atomic"
	"time"
)

// SweepResult summarizes one eviction sweep.
type SweepResult struct {
	Removed        int
	FreedBytes     int64
	OccupancyBytes int64
	BudgetBytes    int64
	OverBudget     bool
	Duration       time.Duration
}

// Evictor enforces the staleness policy of a Store. It removes entries older
// than the freshness window and nothing else: fresh entries are never
// evicted for space, so the store may stay above budget after a sweep.
type Evictor struct {
	store     *Store
	evictions atomic.Uint64
}

// Sweep removes every stale entry.
func (e *Evictor) Sweep() SweepResult {
	e.store.writeMu.Lock()
	defer e.store.writeMu.Unlock()
	return e.sweepLocked()
}

// sweepLocked must be called with the store's writeMu held.
func (e *Evictor) sweepLocked() SweepResult {
	s := e.store
	started := time.Now()
	now := s.cfg.Now()
	before := s.Occupancy()

	removed := s.removeLocked(func(r *record) bool {
		return r.entry.IsStale(now, s.cfg.MaxAge)
	})
	e.evictions.Add(uint64(removed))

	after := s.Occupancy()
	res := SweepResult{
		Removed:        removed,
		FreedBytes:     before - after,
		OccupancyBytes: after,
		BudgetBytes:    s.cfg.BudgetBytes,
		OverBudget:     after > s.cfg.BudgetBytes,
		Duration:       time.Since(started),
	}
	s.logger.Info("tier1 sweep finished", "removed", res.Removed, "freed_bytes", res.FreedBytes,
		"occupancy_bytes", res.OccupancyBytes)
	if res.OverBudget {
		s.logger.Warn("tier1 still over budget after sweep; fresh entries are kept",
			"occupancy_bytes", after, "budget_bytes", s.cfg.BudgetBytes)
	}
	return res
}
