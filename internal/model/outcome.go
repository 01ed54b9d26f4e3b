package model

// Outcome is the terminal state of one symbol within a single fetch call.
type Outcome string

const (
	OutcomePending    Outcome = "PENDING"
	OutcomeTier1Hit   Outcome = "TIER1_HIT"
	OutcomeTier2Hit   Outcome = "TIER2_HIT"
	OutcomeTier3Hit   Outcome = "TIER3_HIT"
	OutcomeUnresolved Outcome = "UNRESOLVED"
)

// Tier names a storage layer in the fallback chain.
type Tier string

const (
	TierLocal  Tier = "tier1"
	TierStore  Tier = "tier2"
	TierOrigin Tier = "tier3"
)
