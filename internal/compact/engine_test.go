package compact

import (
	"fmt"
	"testing"
	"time"

	"github.com/theirongolddev/cwarden/internal/model"
)

func recordWith(fileReads int, readTokens int64) *model.ContextUsageRecord {
	r := &model.ContextUsageRecord{
		SessionID:   "sess-1",
		ToolResults: make(map[string][]model.ToolResult),
	}
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < fileReads; i++ {
		r.FileReads = append(r.FileReads, model.FileRead{
			Path:      fmt.Sprintf("file%02d.go", i),
			Tokens:    readTokens,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return r
}

func addToolResults(r *model.ContextUsageRecord, tool string, tokens ...int64) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, tok := range tokens {
		r.ToolResults[tool] = append(r.ToolResults[tool], model.ToolResult{
			Tool:      tool,
			Tokens:    tok,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestSoftTrimsFileReadLedger(t *testing.T) {
	r := recordWith(15, 500)
	e := NewEngine(180_000)

	out := e.Compact(r, model.TierSoft)

	if len(r.FileReads) != 10 {
		t.Errorf("file reads after soft = %d, want 10", len(r.FileReads))
	}
	if out.TokensSaved != 5*500 {
		t.Errorf("TokensSaved = %d, want 2500", out.TokensSaved)
	}
	if out.Removed != 5 {
		t.Errorf("Removed = %d, want 5", out.Removed)
	}
	if out.Preserved != 10 {
		t.Errorf("Preserved = %d, want 10", out.Preserved)
	}
	// Most recent entries survive.
	if r.FileReads[0].Path != "file05.go" || r.FileReads[9].Path != "file14.go" {
		t.Errorf("soft kept wrong entries: first=%s last=%s", r.FileReads[0].Path, r.FileReads[9].Path)
	}
}

func TestSoftDeduplicatesToolResults(t *testing.T) {
	r := recordWith(0, 0)
	addToolResults(r, "bash", 100, 100, 100, 100, 100, 100, 100)
	addToolResults(r, "grep", 50, 50)
	e := NewEngine(180_000)

	e.Compact(r, model.TierSoft)

	if len(r.ToolResults["bash"]) != 5 {
		t.Errorf("bash results = %d, want 5", len(r.ToolResults["bash"]))
	}
	if len(r.ToolResults["grep"]) != 2 {
		t.Errorf("grep results = %d, want 2 (untouched)", len(r.ToolResults["grep"]))
	}
}

func TestStrategicIncludesSoftAndShrinksLargeEntries(t *testing.T) {
	r := recordWith(12, 500)
	addToolResults(r, "bash", 4000, 200)
	r.ConversationTokens = 10_000
	e := NewEngine(180_000)

	out := e.Compact(r, model.TierStrategic)

	if len(r.FileReads) != 5 {
		t.Errorf("file reads after strategic = %d, want 5", len(r.FileReads))
	}
	bash := r.ToolResults["bash"]
	if bash[0].Tokens != 1200 || !bash[0].Trimmed {
		t.Errorf("large entry = %d tokens (trimmed=%v), want 1200 trimmed", bash[0].Tokens, bash[0].Trimmed)
	}
	if bash[1].Tokens != 200 || bash[1].Trimmed {
		t.Errorf("small entry was touched: %+v", bash[1])
	}
	if r.ConversationTokens != 5000 {
		t.Errorf("conversation = %d, want halved 5000", r.ConversationTokens)
	}
	if out.TokensSaved != 7*500+2800+5000 {
		t.Errorf("TokensSaved = %d, want %d", out.TokensSaved, 7*500+2800+5000)
	}
}

func TestEmergencyIncludesStrategic(t *testing.T) {
	r := recordWith(12, 500)
	addToolResults(r, "bash", 100, 100, 100)
	r.ConversationTokens = 8000
	r.GeneratedTokens = 4000
	e := NewEngine(180_000)

	e.Compact(r, model.TierEmergency)

	if len(r.FileReads) != 3 {
		t.Errorf("file reads after emergency = %d, want 3", len(r.FileReads))
	}
	if len(r.ToolResults["bash"]) != 2 {
		t.Errorf("bash results = %d, want 2", len(r.ToolResults["bash"]))
	}
	// 8000 halved to 4000 (strategic), then cut to 25% of that.
	if r.ConversationTokens != 1000 {
		t.Errorf("conversation = %d, want 1000", r.ConversationTokens)
	}
	if r.GeneratedTokens != 1000 {
		t.Errorf("generated = %d, want 25%% of 4000 = 1000", r.GeneratedTokens)
	}
}

func TestEmergencySavesAtLeastStrategic(t *testing.T) {
	build := func() *model.ContextUsageRecord {
		r := recordWith(20, 300)
		addToolResults(r, "bash", 5000, 800, 800, 800, 800, 800)
		addToolResults(r, "webfetch", 2500, 2500)
		r.ConversationTokens = 40_000
		r.GeneratedTokens = 12_000
		return r
	}
	e := NewEngine(180_000)

	strategic := e.Compact(build(), model.TierStrategic)
	emergency := e.Compact(build(), model.TierEmergency)

	if emergency.TokensSaved < strategic.TokensSaved {
		t.Errorf("emergency saved %d < strategic %d on identical input",
			emergency.TokensSaved, strategic.TokensSaved)
	}
}

func TestStrategicTwiceIsNotMoreAggressive(t *testing.T) {
	r := recordWith(12, 500)
	addToolResults(r, "bash", 5000, 200)
	r.ConversationTokens = 10_000
	e := NewEngine(180_000)

	e.Compact(r, model.TierStrategic)
	afterOnce := r.Clone()

	second := e.Compact(r, model.TierStrategic)

	if second.TokensSaved != 0 {
		t.Errorf("second strategic run saved %d tokens, want 0", second.TokensSaved)
	}
	if r.ConversationTokens != afterOnce.ConversationTokens {
		t.Errorf("conversation compounded: %d vs %d", r.ConversationTokens, afterOnce.ConversationTokens)
	}
	if r.ToolResults["bash"][0].Tokens != afterOnce.ToolResults["bash"][0].Tokens {
		t.Errorf("trimmed entry shrunk again: %d vs %d",
			r.ToolResults["bash"][0].Tokens, afterOnce.ToolResults["bash"][0].Tokens)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	r := recordWith(15, 500)
	r.ConversationTokens = 10_000
	e := NewEngine(180_000)

	out := e.Preview(r, model.TierStrategic)

	if out.TokensSaved == 0 {
		t.Fatal("preview reported no savings on a compactable record")
	}
	if len(r.FileReads) != 15 {
		t.Errorf("preview trimmed the original ledger to %d entries", len(r.FileReads))
	}
	if r.ConversationTokens != 10_000 {
		t.Errorf("preview halved the original conversation total: %d", r.ConversationTokens)
	}
	if r.LastCompactionTier != "" && r.LastCompactionTier != model.TierNone {
		t.Errorf("preview advanced the compaction watermark to %s", r.LastCompactionTier)
	}
}

func TestRecommend(t *testing.T) {
	e := NewEngine(100_000)
	tests := []struct {
		tokens int64
		want   model.CompactionTier
	}{
		{10_000, model.TierNone},
		{59_999, model.TierNone},
		{60_000, model.TierSoft},
		{79_999, model.TierSoft},
		{80_000, model.TierStrategic},
		{89_999, model.TierStrategic},
		{90_000, model.TierEmergency},
		{150_000, model.TierEmergency},
	}

	for _, tt := range tests {
		if got := e.Recommend(tt.tokens); got != tt.want {
			t.Errorf("Recommend(%d) = %s, want %s", tt.tokens, got, tt.want)
		}
	}
}
