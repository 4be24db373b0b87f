// Package contextusage maintains the per-session context ledger and derives
// how much of the model's context window the session has consumed.
package contextusage

import (
	"fmt"
	"time"

	"github.com/theirongolddev/cwarden/internal/model"
	"github.com/theirongolddev/cwarden/internal/notify"
	"github.com/theirongolddev/cwarden/internal/statefile"
)

const stateKind = "context"

// Context thresholds (percent of ceiling) at which the tracker notifies,
// with the same fire-once watermark discipline as the quota bands.
var warnBands = []int{50, 80, 90}

// Options configures a Tracker.
type Options struct {
	ID string
	// SessionID, when set, pins the tracker to one session: a persisted
	// record bound to any other session is treated as stale and reset on
	// load.
	SessionID      string
	CeilingTokens  int64
	OverheadTokens int64
	Store          *statefile.Store
	Notifier       notify.Notifier
	Now            func() time.Time
}

// Tracker is the append-mostly context-usage state machine. The record is
// loaded wholesale, mutated, and written back wholesale on every track call.
type Tracker struct {
	id       string
	session  string
	ceiling  int64
	overhead int64
	store    *statefile.Store
	notifier notify.Notifier
	now      func() time.Time
}

// NewTracker returns a tracker for the record identified by opts.ID.
func NewTracker(opts Options) *Tracker {
	if opts.ID == "" {
		opts.ID = statefile.CurrentID
	}
	if opts.CeilingTokens <= 0 {
		opts.CeilingTokens = 180_000
	}
	if opts.OverheadTokens < 0 {
		opts.OverheadTokens = 0
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		id:       opts.ID,
		session:  opts.SessionID,
		ceiling:  opts.CeilingTokens,
		overhead: opts.OverheadTokens,
		store:    opts.Store,
		notifier: opts.Notifier,
		now:      opts.Now,
	}
}

func (t *Tracker) load() *model.ContextUsageRecord {
	r := &model.ContextUsageRecord{}
	ok, _ := t.store.Load(stateKind, t.id, r)
	if !ok {
		r = &model.ContextUsageRecord{}
	}
	if t.session != "" && r.SessionID != t.session {
		// Record left over from an earlier session. Start fresh rather
		// than mix ledgers across sessions.
		r = &model.ContextUsageRecord{SessionID: t.session}
	}
	if r.ToolResults == nil {
		r.ToolResults = make(map[string][]model.ToolResult)
	}
	return r
}

func (t *Tracker) save(r *model.ContextUsageRecord) error {
	return t.store.Save(stateKind, t.id, r)
}

// StartSession zeroes the record and binds it to a new session id. A load
// that reports a different session id than the caller expects goes through
// here as well.
func (t *Tracker) StartSession(sessionID string) error {
	r := &model.ContextUsageRecord{
		SessionID:   sessionID,
		ToolResults: make(map[string][]model.ToolResult),
	}
	return t.save(r)
}

// SessionID returns the id the current record is bound to.
func (t *Tracker) SessionID() string {
	return t.load().SessionID
}

// TrackFileRead appends to the file-read ledger.
func (t *Tracker) TrackFileRead(path string, tokens int64) error {
	r := t.load()
	r.FileReads = append(r.FileReads, model.FileRead{
		Path:      path,
		Tokens:    tokens,
		Timestamp: t.now(),
	})
	t.checkBands(r)
	return t.save(r)
}

// TrackToolResult appends to the named tool's result ledger.
func (t *Tracker) TrackToolResult(tool string, tokens int64) error {
	r := t.load()
	r.ToolResults[tool] = append(r.ToolResults[tool], model.ToolResult{
		Tool:      tool,
		Tokens:    tokens,
		Timestamp: t.now(),
	})
	t.checkBands(r)
	return t.save(r)
}

// TrackConversation increments the conversation total. The total has no
// itemized ledger; only the compaction engine can reduce it.
func (t *Tracker) TrackConversation(tokens int64) error {
	r := t.load()
	r.ConversationTokens += tokens
	t.checkBands(r)
	return t.save(r)
}

// TrackGeneratedCode increments the generated-artifact total.
func (t *Tracker) TrackGeneratedCode(tokens int64) error {
	r := t.load()
	r.GeneratedTokens += tokens
	t.checkBands(r)
	return t.save(r)
}

// Estimate derives percent-of-ceiling and the qualitative state from the
// persisted record. Pure read.
func (t *Tracker) Estimate() model.ContextEstimate {
	return t.estimate(t.load())
}

func (t *Tracker) estimate(r *model.ContextUsageRecord) model.ContextEstimate {
	ledger := r.LedgerTokens()
	total := ledger + t.overhead
	pct := float64(total) / float64(t.ceiling) * 100

	return model.ContextEstimate{
		SessionID:      r.SessionID,
		LedgerTokens:   ledger,
		OverheadTokens: t.overhead,
		TotalTokens:    total,
		CeilingTokens:  t.ceiling,
		UsedPercent:    pct,
		State:          StateForPercent(pct),
	}
}

// Record returns a deep copy of the persisted record for the compaction
// engine to preview against.
func (t *Tracker) Record() *model.ContextUsageRecord {
	return t.load().Clone()
}

// Apply replaces the persisted record, used by the compaction engine after
// an applied (non-preview) run.
func (t *Tracker) Apply(r *model.ContextUsageRecord) error {
	return t.save(r)
}

// StateForPercent buckets a usage percent into the six ordered context
// states. Monotone: severity never decreases as percent grows.
func StateForPercent(pct float64) model.ContextState {
	switch {
	case pct >= 90:
		return model.ContextCritical
	case pct >= 70:
		return model.ContextHeavy
	case pct >= 50:
		return model.ContextElevated
	case pct >= 30:
		return model.ContextModerate
	case pct >= 10:
		return model.ContextLight
	default:
		return model.ContextFresh
	}
}

func (t *Tracker) checkBands(r *model.ContextUsageRecord) {
	pct := int(t.estimate(r).UsedPercent)
	for _, band := range warnBands {
		if pct >= band && r.LastWarnBand < band {
			r.LastWarnBand = band
			urgency := notify.UrgencyNormal
			if band >= 90 {
				urgency = notify.UrgencyCritical
			} else if band >= 80 {
				urgency = notify.UrgencyHigh
			}
			_ = t.notifier.Notify(notify.Message{
				Title:   "Context usage",
				Body:    fmt.Sprintf("session context at %d%% of ceiling", band),
				Urgency: urgency,
			})
		}
	}
}
