package recorder

import "time"

// RunEvent summarizes one fetch call.
type RunEvent struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	RangeStart time.Time
	RangeEnd   time.Time
	Requested  int
	Batches    int
	Tier1Hits  int
	Tier2Hits  int
	Tier3Hits  int
	Unresolved []string
	Cancelled  bool
}

// PromotionFailure records a promotion write that did not land.
type PromotionFailure struct {
	RunID  string
	Symbol string
	Key    string
	Tier   string // tier that rejected the write
	Error  string
}

// SweepEvent records one Tier1 eviction sweep.
type SweepEvent struct {
	Removed        int
	FreedBytes     int64
	OccupancyBytes int64
	OverBudget     bool
}

// Recorder persists fetch history for later analysis.
type Recorder interface {
	RecordRun(evt *RunEvent) error
	RecordPromotionFailure(evt *PromotionFailure) error
	RecordSweep(evt *SweepEvent) error
	Close() error
}
