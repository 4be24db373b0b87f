package quota

import (
	"os"
	"path/filepath"
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

type recordingArchiver struct {
	windows []model.QuotaWindow
}

func (a *recordingArchiver) ArchiveWindow(w model.QuotaWindow) error {
	a.windows = append(a.windows, w)
	return nil
}

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T, capacity int64) (*Tracker, *fakeClock, *recordingNotifier, *recordingArchiver) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	archiver := &recordingArchiver{}
	tr := NewTracker(Options{
		ID:             "test",
		Plan:           "pro",
		CapacityTokens: capacity,
		WindowDuration: 5 * time.Hour,
		Store:          statefile.NewStore(t.TempDir()),
		Notifier:       notifier,
		Archiver:       archiver,
		Now:            clock.now,
	})
	return tr, clock, notifier, archiver
}

func TestAdmissionAgainstConsumedWindow(t *testing.T) {
	tr, clock, _, _ := newTestTracker(t, 200_000)

	if err := tr.RecordConsumption("sess-1", 150_000); err != nil {
		t.Fatal(err)
	}

	adm, err := tr.CanAdmit(60_000)
	if err != nil {
		t.Fatal(err)
	}
	if adm.Admit {
		t.Error("CanAdmit(60000) admitted with only 50000 remaining")
	}
	if adm.Remaining != 50_000 {
		t.Errorf("Remaining = %d, want 50000", adm.Remaining)
	}
	wantReset := clock.t.Add(5 * time.Hour)
	if !adm.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v (window start + 5h)", adm.ResetAt, wantReset)
	}

	adm, err = tr.CanAdmit(50_000)
	if err != nil {
		t.Fatal(err)
	}
	if !adm.Admit {
		t.Error("CanAdmit(50000) refused a task that exactly fits")
	}
}

func TestWindowOpensLazily(t *testing.T) {
	tr, clock, _, _ := newTestTracker(t, 100_000)

	// A zero report must not open the clock.
	if err := tr.RecordConsumption("sess-1", 0); err != nil {
		t.Fatal(err)
	}
	st, err := tr.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.WindowStart.IsZero() {
		t.Error("zero-token report opened the window clock")
	}

	clock.advance(42 * time.Minute)
	if err := tr.RecordConsumption("sess-1", 1000); err != nil {
		t.Fatal(err)
	}
	st, err = tr.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.WindowStart.Equal(clock.t) {
		t.Errorf("WindowStart = %v, want first non-zero report time %v", st.WindowStart, clock.t)
	}
	if !st.ResetAt.Equal(clock.t.Add(5 * time.Hour)) {
		t.Errorf("ResetAt = %v, want start + 5h", st.ResetAt)
	}
}

func TestRolloverIsIdempotent(t *testing.T) {
	tr, clock, _, archiver := newTestTracker(t, 100_000)

	if err := tr.RecordConsumption("sess-1", 80_000); err != nil {
		t.Fatal(err)
	}

	clock.advance(5*time.Hour + time.Minute)

	for i := 0; i < 3; i++ {
		st, err := tr.Status()
		if err != nil {
			t.Fatal(err)
		}
		if st.TokensUsed != 0 {
			t.Fatalf("call %d: TokensUsed = %d after reset, want 0", i, st.TokensUsed)
		}
		if st.Sessions != 0 {
			t.Fatalf("call %d: Sessions = %d after reset, want 0", i, st.Sessions)
		}
		wantReset := clock.t.Add(5 * time.Hour)
		if !st.ResetAt.Equal(wantReset) {
			t.Fatalf("call %d: ResetAt = %v, want freshly computed %v", i, st.ResetAt, wantReset)
		}
	}

	if len(archiver.windows) != 1 {
		t.Fatalf("archived %d windows, want exactly 1", len(archiver.windows))
	}
	if archiver.windows[0].TokensUsed != 80_000 {
		t.Errorf("archived TokensUsed = %d, want 80000", archiver.windows[0].TokensUsed)
	}
}

func TestBandNotificationsFireOncePerWindow(t *testing.T) {
	tr, clock, notifier, _ := newTestTracker(t, 100_000)

	if err := tr.RecordConsumption("sess-1", 55_000); err != nil {
		t.Fatal(err)
	}
	// One crossing report covers every band up to the current percent.
	if len(notifier.messages) != 3 { // 10, 25, 50
		t.Fatalf("notifications after 55%% = %d, want 3", len(notifier.messages))
	}

	// Repeated reads at the same percent fire nothing new.
	for i := 0; i < 5; i++ {
		if _, err := tr.Status(); err != nil {
			t.Fatal(err)
		}
	}
	if len(notifier.messages) != 3 {
		t.Fatalf("repeated Status grew notifications to %d, want 3", len(notifier.messages))
	}

	// Crossing a higher band fires exactly once more.
	if err := tr.RecordConsumption("sess-2", 21_000); err != nil { // 76%
		t.Fatal(err)
	}
	if len(notifier.messages) != 4 {
		t.Fatalf("notifications after 76%% = %d, want 4", len(notifier.messages))
	}
	if notifier.messages[3].Urgency != notify.UrgencyHigh {
		t.Errorf("75 band urgency = %s, want high", notifier.messages[3].Urgency)
	}

	// A rollover re-arms all bands.
	clock.advance(6 * time.Hour)
	if err := tr.RecordConsumption("sess-3", 11_000); err != nil {
		t.Fatal(err)
	}
	if len(notifier.messages) != 5 {
		t.Fatalf("notifications after rollover crossing = %d, want 5", len(notifier.messages))
	}
}

func TestCorruptStateReinitializes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "quota-test.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	tr := NewTracker(Options{
		ID:             "test",
		Plan:           "pro",
		CapacityTokens: 100_000,
		WindowDuration: 5 * time.Hour,
		Store:          statefile.NewStore(dir),
	})

	st, err := tr.Status()
	if err != nil {
		t.Fatalf("corrupt state was fatal: %v", err)
	}
	if st.TokensUsed != 0 || st.CapacityTokens != 100_000 {
		t.Errorf("reinitialized window = %+v, want fresh 100000-capacity window", st)
	}
}

func TestDeferSession(t *testing.T) {
	tr, clock, _, _ := newTestTracker(t, 100_000)

	if err := tr.RecordConsumption("sess-1", 95_000); err != nil {
		t.Fatal(err)
	}
	resetAt := clock.t.Add(5 * time.Hour)

	if err := tr.DeferSession("evt-9", 40_000, "insufficient quota"); err != nil {
		t.Fatal(err)
	}
	// Deferring twice is a no-op.
	if err := tr.DeferSession("evt-9", 40_000, "insufficient quota"); err != nil {
		t.Fatal(err)
	}

	st, err := tr.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Deferred != 1 {
		t.Fatalf("Deferred = %d, want 1", st.Deferred)
	}

	// Not due before reset + 1 minute.
	due, err := tr.DueDeferred()
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("DueDeferred before reset = %d entries, want 0", len(due))
	}

	// Deferred intents survive the rollover and come due after it.
	clock.t = resetAt.Add(2 * time.Minute)
	due, err = tr.DueDeferred()
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "evt-9" {
		t.Fatalf("DueDeferred after reset = %+v, want evt-9", due)
	}

	if err := tr.ClearDeferred("evt-9"); err != nil {
		t.Fatal(err)
	}
	due, _ = tr.DueDeferred()
	if len(due) != 0 {
		t.Errorf("DueDeferred after clear = %d entries, want 0", len(due))
	}
}
