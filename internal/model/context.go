package model

import "time"

// ContextState is the qualitative bucket for context-window usage.
type ContextState string

// Context states, ordered by severity. The bucket is monotone in percent:
// a higher percent never maps to a lower state.
const (
	ContextFresh    ContextState = "fresh"    // < 10%
	ContextLight    ContextState = "light"    // < 30%
	ContextModerate ContextState = "moderate" // < 50%
	ContextElevated ContextState = "elevated" // < 70%
	ContextHeavy    ContextState = "heavy"    // < 90%
	ContextCritical ContextState = "critical" // >= 90%
)

// FileRead is one entry in the file-read ledger.
type FileRead struct {
	Path      string    `json:"path"`
	Tokens    int64     `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolResult is one entry in a per-tool result ledger.
type ToolResult struct {
	Tool      string    `json:"tool"`
	Tokens    int64     `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
	Trimmed   bool      `json:"trimmed,omitempty"`
}

// ContextUsageRecord is the per-session context ledger. File reads and tool
// results are itemized; conversation and generated-code totals are plain
// counters that only the compaction engine can reduce.
type ContextUsageRecord struct {
	SessionID          string                  `json:"session_id"`
	FileReads          []FileRead              `json:"file_reads"`
	ToolResults        map[string][]ToolResult `json:"tool_results"`
	ConversationTokens int64                   `json:"conversation_tokens"`
	GeneratedTokens    int64                   `json:"generated_tokens"`

	// LastWarnBand mirrors QuotaWindow.LastWarnBand for the 50/80/90
	// context thresholds; it resets only when a new session starts.
	LastWarnBand int `json:"last_warn_band"`

	// LastCompactionTier is the strongest tier already applied to this
	// record. Repeating a tier must not compound its non-idempotent cuts
	// (conversation and generated-code totals).
	LastCompactionTier CompactionTier `json:"last_compaction_tier,omitempty"`
}

// LedgerTokens sums the itemized ledgers plus the running totals, without
// the fixed overhead constant.
func (r *ContextUsageRecord) LedgerTokens() int64 {
	var total int64
	for _, fr := range r.FileReads {
		total += fr.Tokens
	}
	for _, results := range r.ToolResults {
		for _, tr := range results {
			total += tr.Tokens
		}
	}
	return total + r.ConversationTokens + r.GeneratedTokens
}

// Clone returns a deep copy of the record. Compaction previews operate on
// the copy so the persisted record is never touched.
func (r *ContextUsageRecord) Clone() *ContextUsageRecord {
	c := *r
	c.FileReads = make([]FileRead, len(r.FileReads))
	copy(c.FileReads, r.FileReads)
	c.ToolResults = make(map[string][]ToolResult, len(r.ToolResults))
	for tool, results := range r.ToolResults {
		dup := make([]ToolResult, len(results))
		copy(dup, results)
		c.ToolResults[tool] = dup
	}
	return &c
}

// ContextEstimate is the derived view of a ContextUsageRecord.
type ContextEstimate struct {
	SessionID      string
	LedgerTokens   int64
	OverheadTokens int64
	TotalTokens    int64
	CeilingTokens  int64
	UsedPercent    float64
	State          ContextState
}
