// Package quota maintains the rolling token-budget window and decides
// whether prospective sessions fit inside it.
package quota

import (
	"fmt"
	"time"

	"github.com/theirongolddev/cwarden/internal/model"
	"github.com/theirongolddev/cwarden/internal/notify"
	"github.com/theirongolddev/cwarden/internal/statefile"
)

const stateKind = "quota"

// Usage bands (percent) at which the tracker dispatches a notification.
// Each band fires exactly once per window, tracked by the window's
// last-acknowledged watermark.
var warnBands = []int{10, 25, 50, 75, 90, 95}

// Archiver receives rolled-over windows. The SQLite archive implements it;
// a nil archiver skips archival.
type Archiver interface {
	ArchiveWindow(w model.QuotaWindow) error
}

// Options configures a Tracker.
type Options struct {
	ID             string
	Plan           string
	CapacityTokens int64
	WindowDuration time.Duration
	Store          *statefile.Store
	Notifier       notify.Notifier
	Archiver       Archiver
	Now            func() time.Time
}

// Tracker is the rolling quota-window state machine. All mutating
// operations load the persisted window, roll it over if the reset instant
// has passed, apply the change, and write the window back wholesale.
type Tracker struct {
	id       string
	plan     string
	capacity int64
	duration time.Duration
	store    *statefile.Store
	notifier notify.Notifier
	archiver Archiver
	now      func() time.Time
}

// NewTracker returns a tracker for the window identified by opts.ID.
func NewTracker(opts Options) *Tracker {
	if opts.ID == "" {
		opts.ID = statefile.CurrentID
	}
	if opts.WindowDuration <= 0 {
		opts.WindowDuration = 5 * time.Hour
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		id:       opts.ID,
		plan:     opts.Plan,
		capacity: opts.CapacityTokens,
		duration: opts.WindowDuration,
		store:    opts.Store,
		notifier: opts.Notifier,
		archiver: opts.Archiver,
		now:      opts.Now,
	}
}

// load reads the persisted window, reinitializing on absence or corruption
// and rolling it forward if the reset instant has passed.
func (t *Tracker) load() *model.QuotaWindow {
	w := &model.QuotaWindow{}
	ok, _ := t.store.Load(stateKind, t.id, w)
	if !ok || w.CapacityTokens <= 0 {
		w = t.freshWindow()
	}
	t.rollover(w)
	return w
}

func (t *Tracker) freshWindow() *model.QuotaWindow {
	return &model.QuotaWindow{
		Plan:           t.plan,
		CapacityTokens: t.capacity,
		WindowDuration: t.duration,
	}
}

// rollover archives and reopens the window when now has passed the reset
// instant. Deferred sessions survive the rollover; everything else zeroes.
func (t *Tracker) rollover(w *model.QuotaWindow) {
	if !w.Opened() || t.now().Before(w.ResetAt) {
		return
	}

	if t.archiver != nil && w.TokensUsed > 0 {
		_ = t.archiver.ArchiveWindow(*w)
	}

	deferred := w.Deferred
	*w = *t.freshWindow()
	w.Deferred = deferred
}

func (t *Tracker) save(w *model.QuotaWindow) error {
	return t.store.Save(stateKind, t.id, w)
}

// RecordConsumption appends a consumption report to the current window,
// opening the window clock on the first non-zero report. Recording is not
// gated on capacity: CanAdmit is advisory and the recorder consults it
// first.
func (t *Tracker) RecordConsumption(sessionID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}

	w := t.load()
	if !w.Opened() {
		w.WindowStart = t.now()
		w.ResetAt = w.WindowStart.Add(w.WindowDuration)
	}

	w.TokensUsed += tokens
	w.Sessions = append(w.Sessions, model.SessionUsage{
		SessionID:  sessionID,
		TokensUsed: tokens,
		RecordedAt: t.now(),
	})

	t.checkBands(w)
	return t.save(w)
}

// CanAdmit reports whether a task of the estimated size fits in the
// remaining window. A negative outcome is a decision, not an error; the
// returned ResetAt is the earliest retry instant.
func (t *Tracker) CanAdmit(estimatedTokens int64) (model.Admission, error) {
	w := t.load()

	resetAt := w.ResetAt
	if !w.Opened() {
		// Unopened window: the clock starts on first consumption, so the
		// reset shown is hypothetical from now.
		resetAt = t.now().Add(w.WindowDuration)
	}

	adm := model.Admission{
		Admit:     estimatedTokens <= w.Remaining(),
		Remaining: w.Remaining(),
		ResetAt:   resetAt,
	}
	return adm, t.save(w)
}

// DeferSession persists an intent to retry a session one minute after the
// window resets.
func (t *Tracker) DeferSession(id string, estimatedTokens int64, reason string) error {
	w := t.load()

	resetAt := w.ResetAt
	if !w.Opened() {
		resetAt = t.now().Add(w.WindowDuration)
	}

	for _, d := range w.Deferred {
		if d.ID == id {
			return t.save(w) // already deferred
		}
	}

	w.Deferred = append(w.Deferred, model.DeferredSession{
		ID:              id,
		EstimatedTokens: estimatedTokens,
		DueAt:           resetAt.Add(time.Minute),
		Reason:          reason,
	})
	return t.save(w)
}

// ClearDeferred removes a deferred entry once its session has launched.
func (t *Tracker) ClearDeferred(id string) error {
	w := t.load()
	kept := w.Deferred[:0]
	for _, d := range w.Deferred {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	w.Deferred = kept
	return t.save(w)
}

// Status returns the current window's usage and a recommendation. Calling
// it repeatedly after the reset instant reports a fresh zero-usage window;
// band notifications fired here obey the once-per-window watermark.
func (t *Tracker) Status() (model.QuotaStatus, error) {
	w := t.load()
	t.checkBands(w)
	if err := t.save(w); err != nil {
		return model.QuotaStatus{}, err
	}

	resetAt := w.ResetAt
	if !w.Opened() {
		resetAt = t.now().Add(w.WindowDuration)
	}

	return model.QuotaStatus{
		Plan:           w.Plan,
		CapacityTokens: w.CapacityTokens,
		TokensUsed:     w.TokensUsed,
		Remaining:      w.Remaining(),
		UsedPercent:    w.UsedPercent(),
		WindowStart:    w.WindowStart,
		ResetAt:        resetAt,
		Sessions:       len(w.Sessions),
		Deferred:       len(w.Deferred),
		Recommendation: recommendation(w.UsedPercent()),
	}, nil
}

// DueDeferred returns deferred sessions whose retry instant has passed.
func (t *Tracker) DueDeferred() ([]model.DeferredSession, error) {
	w := t.load()
	if err := t.save(w); err != nil {
		return nil, err
	}

	var due []model.DeferredSession
	for _, d := range w.Deferred {
		if !t.now().Before(d.DueAt) {
			due = append(due, d)
		}
	}
	return due, nil
}

// checkBands fires one notification per newly crossed band. The watermark
// only moves up; dropping below a crossed band never re-arms it.
func (t *Tracker) checkBands(w *model.QuotaWindow) {
	pct := int(w.UsedPercent())
	for _, band := range warnBands {
		if pct >= band && w.LastWarnBand < band {
			w.LastWarnBand = band
			_ = t.notifier.Notify(notify.Message{
				Title:   "Quota window",
				Body:    fmt.Sprintf("%d%% of window budget used: %s", band, recommendation(float64(band))),
				Urgency: bandUrgency(band),
			})
		}
	}
}

func bandUrgency(band int) notify.Urgency {
	switch {
	case band >= 90:
		return notify.UrgencyCritical
	case band >= 75:
		return notify.UrgencyHigh
	default:
		return notify.UrgencyNormal
	}
}

// recommendation maps usage percent to advice, using the same bands as the
// notifications.
func recommendation(pct float64) string {
	switch {
	case pct >= 95:
		return "window exhausted, defer all work until reset"
	case pct >= 90:
		return "stop new sessions, finish the active one only"
	case pct >= 75:
		return "only small tasks fit, check admission before starting"
	case pct >= 50:
		return "half the window is gone, prioritize remaining work"
	case pct >= 25:
		return "steady consumption, pace remaining sessions"
	case pct >= 10:
		return "plenty of budget remaining"
	default:
		return "window is fresh"
	}
}
