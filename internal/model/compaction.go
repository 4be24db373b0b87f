package model

// CompactionTier is one of the three increasingly aggressive strategies.
// Each tier is a strict superset of the transformations of the tier below.
type CompactionTier string

const (
	TierNone      CompactionTier = "none"
	TierSoft      CompactionTier = "soft"
	TierStrategic CompactionTier = "strategic"
	TierEmergency CompactionTier = "emergency"
)

// CompactionAction itemizes one reclamation step inside an outcome.
type CompactionAction struct {
	Category        string
	Description     string
	TokensReclaimed int64
}

// CompactionOutcome is the before/after accounting of a compaction run.
// It is computed and returned, never persisted.
type CompactionOutcome struct {
	Tier         CompactionTier
	TokensBefore int64
	TokensAfter  int64
	TokensSaved  int64
	Removed      int
	Preserved    int
	Actions      []CompactionAction
}
