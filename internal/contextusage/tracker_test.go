package contextusage

import (
	"testing"
	"time"

	"github.com/theirongolddev/cwarden/internal/model"
	"github.com/theirongolddev/cwarden/internal/notify"
	"github.com/theirongolddev/cwarden/internal/statefile"
)

type recordingNotifier struct {
	messages []notify.Message
}

func (n *recordingNotifier) Notify(msg notify.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

func newTestTracker(t *testing.T) (*Tracker, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	tr := NewTracker(Options{
		ID:             "test",
		CeilingTokens:  180_000,
		OverheadTokens: 12_000,
		Store:          statefile.NewStore(t.TempDir()),
		Notifier:       notifier,
		Now:            func() time.Time { return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err := tr.StartSession("sess-1"); err != nil {
		t.Fatal(err)
	}
	return tr, notifier
}

func TestEstimateSumsLedgersPlusOverhead(t *testing.T) {
	tr, _ := newTestTracker(t)

	if err := tr.TrackFileRead("main.go", 4000); err != nil {
		t.Fatal(err)
	}
	if err := tr.TrackFileRead("util.go", 2000); err != nil {
		t.Fatal(err)
	}
	if err := tr.TrackToolResult("bash", 3000); err != nil {
		t.Fatal(err)
	}
	if err := tr.TrackConversation(5000); err != nil {
		t.Fatal(err)
	}
	if err := tr.TrackGeneratedCode(1000); err != nil {
		t.Fatal(err)
	}

	est := tr.Estimate()
	if est.LedgerTokens != 15_000 {
		t.Errorf("LedgerTokens = %d, want 15000", est.LedgerTokens)
	}
	if est.TotalTokens != 27_000 {
		t.Errorf("TotalTokens = %d, want 27000 (ledger + 12000 overhead)", est.TotalTokens)
	}
	wantPct := float64(27_000) / 180_000 * 100
	if est.UsedPercent != wantPct {
		t.Errorf("UsedPercent = %.2f, want %.2f", est.UsedPercent, wantPct)
	}
	if est.State != model.ContextLight {
		t.Errorf("State = %s, want light", est.State)
	}
}

func TestStateForPercent(t *testing.T) {
	tests := []struct {
		pct  float64
		want model.ContextState
	}{
		{0, model.ContextFresh},
		{9.9, model.ContextFresh},
		{10, model.ContextLight},
		{29.9, model.ContextLight},
		{30, model.ContextModerate},
		{49.9, model.ContextModerate},
		{50, model.ContextElevated},
		{69.9, model.ContextElevated},
		{70, model.ContextHeavy},
		{89.9, model.ContextHeavy},
		{90, model.ContextCritical},
		{120, model.ContextCritical},
	}

	for _, tt := range tests {
		if got := StateForPercent(tt.pct); got != tt.want {
			t.Errorf("StateForPercent(%.1f) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestStateNeverDecreasesWithPercent(t *testing.T) {
	order := map[model.ContextState]int{
		model.ContextFresh:    0,
		model.ContextLight:    1,
		model.ContextModerate: 2,
		model.ContextElevated: 3,
		model.ContextHeavy:    4,
		model.ContextCritical: 5,
	}

	prev := model.ContextFresh
	for pct := 0.0; pct <= 100; pct += 0.5 {
		state := StateForPercent(pct)
		if order[state] < order[prev] {
			t.Fatalf("severity decreased from %s to %s at %.1f%%", prev, state, pct)
		}
		prev = state
	}
}

func TestThresholdNotificationsFireOnce(t *testing.T) {
	tr, notifier := newTestTracker(t)

	// 12000 overhead is ~6.7%; push conversation to cross 50%.
	if err := tr.TrackConversation(80_000); err != nil { // ~51%
		t.Fatal(err)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifications after 51%% = %d, want 1", len(notifier.messages))
	}

	// Same band again: silent.
	if err := tr.TrackConversation(100); err != nil {
		t.Fatal(err)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("re-fire at same band: %d messages, want 1", len(notifier.messages))
	}

	// Cross 80 and 90 in one jump: both fire, each once.
	if err := tr.TrackConversation(75_000); err != nil { // ~92%
		t.Fatal(err)
	}
	if len(notifier.messages) != 3 {
		t.Fatalf("notifications after 92%% = %d, want 3", len(notifier.messages))
	}
	if notifier.messages[2].Urgency != notify.UrgencyCritical {
		t.Errorf("90 band urgency = %s, want critical", notifier.messages[2].Urgency)
	}

	// New session re-arms the bands.
	if err := tr.StartSession("sess-2"); err != nil {
		t.Fatal(err)
	}
	if err := tr.TrackConversation(85_000); err != nil { // ~54%
		t.Fatal(err)
	}
	if len(notifier.messages) != 4 {
		t.Fatalf("notifications after new-session crossing = %d, want 4", len(notifier.messages))
	}
}

func TestStartSessionResetsRecord(t *testing.T) {
	tr, _ := newTestTracker(t)

	if err := tr.TrackFileRead("a.go", 500); err != nil {
		t.Fatal(err)
	}
	if err := tr.StartSession("sess-2"); err != nil {
		t.Fatal(err)
	}

	est := tr.Estimate()
	if est.SessionID != "sess-2" {
		t.Errorf("SessionID = %q, want sess-2", est.SessionID)
	}
	if est.LedgerTokens != 0 {
		t.Errorf("LedgerTokens = %d after reset, want 0", est.LedgerTokens)
	}
}

func TestRecordReturnsDeepCopy(t *testing.T) {
	tr, _ := newTestTracker(t)
	if err := tr.TrackToolResult("grep", 100); err != nil {
		t.Fatal(err)
	}

	rec := tr.Record()
	rec.ToolResults["grep"][0].Tokens = 999_999
	rec.ConversationTokens = 999_999

	est := tr.Estimate()
	if est.LedgerTokens != 100 {
		t.Errorf("mutating the copy leaked into the persisted record: LedgerTokens = %d", est.LedgerTokens)
	}
}

func TestPinnedTrackerResetsStaleRecordOnLoad(t *testing.T) {
	store := statefile.NewStore(t.TempDir())
	now := func() time.Time { return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) }

	old := NewTracker(Options{
		ID:    "test",
		Store: store,
		Now:   now,
	})
	if err := old.StartSession("sess-old"); err != nil {
		t.Fatal(err)
	}
	if err := old.TrackFileRead("/tmp/a.go", 4000); err != nil {
		t.Fatal(err)
	}

	pinned := NewTracker(Options{
		ID:        "test",
		SessionID: "sess-new",
		Store:     store,
		Now:       now,
	})

	rec := pinned.Record()
	if rec.SessionID != "sess-new" {
		t.Errorf("SessionID = %q, want sess-new", rec.SessionID)
	}
	if len(rec.FileReads) != 0 {
		t.Errorf("stale file reads survived the pin: %d entries", len(rec.FileReads))
	}
	if got := pinned.Estimate().LedgerTokens; got != 0 {
		t.Errorf("LedgerTokens = %d, want 0 for a reset record", got)
	}
}
