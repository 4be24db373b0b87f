// Package compact rewrites a context-usage record in place to reclaim
// context-window capacity, in three strictly cumulative severity tiers.
package compact

import (
	"fmt"
	"sort"

	"github.com/theirongolddev/cwarden/internal/model"
)

// Ledger limits per tier. Each tier keeps fewer entries than the one below.
const (
	softFileReads      = 10
	softToolResults    = 5
	strategicFileReads = 5
	emergencyFileReads = 3
	emergencyToolRes   = 2

	// Tool-result entries above this size are shrunk to shrinkRatio of
	// their original tokens at the strategic tier and tagged trimmed.
	largeEntryTokens = 1000
	shrinkRatio      = 0.30
)

var tierRank = map[model.CompactionTier]int{
	model.TierNone:      0,
	model.TierSoft:      1,
	model.TierStrategic: 2,
	model.TierEmergency: 3,
}

// Engine applies tiered compaction against context-usage records.
type Engine struct {
	ceiling int64
}

// NewEngine returns an engine that recommends tiers against the given
// context ceiling.
func NewEngine(ceilingTokens int64) *Engine {
	if ceilingTokens <= 0 {
		ceilingTokens = 180_000
	}
	return &Engine{ceiling: ceilingTokens}
}

// Recommend maps current usage to the tier worth running.
func (e *Engine) Recommend(currentTokens int64) model.CompactionTier {
	pct := float64(currentTokens) / float64(e.ceiling) * 100
	switch {
	case pct >= 90:
		return model.TierEmergency
	case pct >= 80:
		return model.TierStrategic
	case pct >= 60:
		return model.TierSoft
	default:
		return model.TierNone
	}
}

// Compact applies the tier's transformations to the record in place and
// returns the before/after accounting. Tiers chain: strategic runs the soft
// steps first, emergency runs both. Callers persist the record themselves.
func (e *Engine) Compact(r *model.ContextUsageRecord, tier model.CompactionTier) model.CompactionOutcome {
	out := model.CompactionOutcome{
		Tier:         tier,
		TokensBefore: r.LedgerTokens(),
	}
	entriesBefore := countEntries(r)

	if tierRank[tier] >= tierRank[model.TierSoft] {
		e.applySoft(r, &out)
	}
	if tierRank[tier] >= tierRank[model.TierStrategic] {
		e.applyStrategic(r, &out)
	}
	if tierRank[tier] >= tierRank[model.TierEmergency] {
		e.applyEmergency(r, &out)
	}

	if tierRank[tier] > tierRank[r.LastCompactionTier] {
		r.LastCompactionTier = tier
	}

	out.TokensAfter = r.LedgerTokens()
	out.TokensSaved = out.TokensBefore - out.TokensAfter
	out.Preserved = countEntries(r)
	out.Removed = entriesBefore - out.Preserved
	return out
}

// Preview runs the identical transformation against a deep copy. The
// original record is never touched and nothing is persisted.
func (e *Engine) Preview(r *model.ContextUsageRecord, tier model.CompactionTier) model.CompactionOutcome {
	return e.Compact(r.Clone(), tier)
}

func (e *Engine) applySoft(r *model.ContextUsageRecord, out *model.CompactionOutcome) {
	if saved, removed := trimFileReads(r, softFileReads); removed > 0 {
		out.Actions = append(out.Actions, model.CompactionAction{
			Category:        "file-reads",
			Description:     fmt.Sprintf("dropped %d oldest file reads, kept %d", removed, len(r.FileReads)),
			TokensReclaimed: saved,
		})
	}

	for _, tool := range sortedTools(r) {
		if saved, removed := trimToolResults(r, tool, softToolResults); removed > 0 {
			out.Actions = append(out.Actions, model.CompactionAction{
				Category:        "tool-results",
				Description:     fmt.Sprintf("deduplicated %s results to %d most recent", tool, len(r.ToolResults[tool])),
				TokensReclaimed: saved,
			})
		}
	}
}

func (e *Engine) applyStrategic(r *model.ContextUsageRecord, out *model.CompactionOutcome) {
	var shrunk int64
	var count int
	for _, tool := range sortedTools(r) {
		results := r.ToolResults[tool]
		for i := range results {
			// Entries already tagged trimmed are left alone so repeated
			// runs never compound the shrink.
			if results[i].Trimmed || results[i].Tokens <= largeEntryTokens {
				continue
			}
			kept := int64(float64(results[i].Tokens) * shrinkRatio)
			shrunk += results[i].Tokens - kept
			results[i].Tokens = kept
			results[i].Trimmed = true
			count++
		}
	}
	if count > 0 {
		out.Actions = append(out.Actions, model.CompactionAction{
			Category:        "tool-results",
			Description:     fmt.Sprintf("shrunk %d oversized results to 30%%", count),
			TokensReclaimed: shrunk,
		})
	}

	if saved, removed := trimFileReads(r, strategicFileReads); removed > 0 {
		out.Actions = append(out.Actions, model.CompactionAction{
			Category:        "file-reads",
			Description:     fmt.Sprintf("reduced file-read ledger to %d entries", len(r.FileReads)),
			TokensReclaimed: saved,
		})
	}

	if tierRank[r.LastCompactionTier] < tierRank[model.TierStrategic] && r.ConversationTokens > 0 {
		saved := r.ConversationTokens - r.ConversationTokens/2
		r.ConversationTokens /= 2
		out.Actions = append(out.Actions, model.CompactionAction{
			Category:        "conversation",
			Description:     "halved conversation total",
			TokensReclaimed: saved,
		})
	}
}

func (e *Engine) applyEmergency(r *model.ContextUsageRecord, out *model.CompactionOutcome) {
	if saved, removed := trimFileReads(r, emergencyFileReads); removed > 0 {
		out.Actions = append(out.Actions, model.CompactionAction{
			Category:        "file-reads",
			Description:     fmt.Sprintf("reduced file-read ledger to %d entries", len(r.FileReads)),
			TokensReclaimed: saved,
		})
	}

	for _, tool := range sortedTools(r) {
		if saved, removed := trimToolResults(r, tool, emergencyToolRes); removed > 0 {
			out.Actions = append(out.Actions, model.CompactionAction{
				Category:        "tool-results",
				Description:     fmt.Sprintf("reduced %s results to %d entries", tool, len(r.ToolResults[tool])),
				TokensReclaimed: saved,
			})
		}
	}

	if tierRank[r.LastCompactionTier] < tierRank[model.TierEmergency] {
		if r.ConversationTokens > 0 {
			saved := r.ConversationTokens - r.ConversationTokens/4
			r.ConversationTokens /= 4
			out.Actions = append(out.Actions, model.CompactionAction{
				Category:        "conversation",
				Description:     "cut conversation total to 25% of its halved value",
				TokensReclaimed: saved,
			})
		}
		if r.GeneratedTokens > 0 {
			saved := r.GeneratedTokens - r.GeneratedTokens/4
			r.GeneratedTokens /= 4
			out.Actions = append(out.Actions, model.CompactionAction{
				Category:        "generated-code",
				Description:     "cut generated-code total to 25%",
				TokensReclaimed: saved,
			})
		}
	}
}

// trimFileReads keeps the n most recent file reads, returning the tokens
// reclaimed and the number of entries dropped. Ledgers are append-only, so
// most recent means the tail.
func trimFileReads(r *model.ContextUsageRecord, n int) (saved int64, removed int) {
	if len(r.FileReads) <= n {
		return 0, 0
	}
	dropped := r.FileReads[:len(r.FileReads)-n]
	for _, fr := range dropped {
		saved += fr.Tokens
	}
	removed = len(dropped)
	r.FileReads = append([]model.FileRead(nil), r.FileReads[len(r.FileReads)-n:]...)
	return saved, removed
}

func trimToolResults(r *model.ContextUsageRecord, tool string, n int) (saved int64, removed int) {
	results := r.ToolResults[tool]
	if len(results) <= n {
		return 0, 0
	}
	dropped := results[:len(results)-n]
	for _, tr := range dropped {
		saved += tr.Tokens
	}
	removed = len(dropped)
	r.ToolResults[tool] = append([]model.ToolResult(nil), results[len(results)-n:]...)
	return saved, removed
}

func countEntries(r *model.ContextUsageRecord) int {
	n := len(r.FileReads)
	for _, results := range r.ToolResults {
		n += len(results)
	}
	return n
}

// sortedTools returns tool names in stable order so outcome itemization is
// deterministic.
func sortedTools(r *model.ContextUsageRecord) []string {
	tools := make([]string, 0, len(r.ToolResults))
	for tool := range r.ToolResults {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}
