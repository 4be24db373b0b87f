// Package orchestrator watches the session calendar and drives scheduled
// agent sessions through their lifecycle: lead warnings, quota admission,
// launch, live monitoring, and archival.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/theirongolddev/cwarden/internal/calendar"
	"github.com/theirongolddev/cwarden/internal/contextusage"
	"github.com/theirongolddev/cwarden/internal/launcher"
	"github.com/theirongolddev/cwarden/internal/logging"
	"github.com/theirongolddev/cwarden/internal/model"
	"github.com/theirongolddev/cwarden/internal/monitor"
	"github.com/theirongolddev/cwarden/internal/notify"
	"github.com/theirongolddev/cwarden/internal/quota"
	"github.com/theirongolddev/cwarden/internal/statefile"
)

const (
	handleStateKind = "session"

	// Admission estimate when a scheduled entry carries no budget.
	defaultSessionEstimate = 50_000

	eventsRetained = 100
)

// Phase is the orchestrator's lifecycle state. Transitions are driven
// entirely by Tick and by monitor events; there are no background timers
// beyond the tick loop itself.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePolling    Phase = "polling"
	PhaseTriggering Phase = "triggering"
	PhaseActive     Phase = "active"
	PhaseCompleting Phase = "completing"
)

// LogStream is the slice of monitor.Monitor the orchestrator needs.
type LogStream interface {
	Start() error
	Events() <-chan monitor.Event
	Stop(reason string)
	Metrics() monitor.Metrics
}

// SessionArchiver persists completed session summaries.
type SessionArchiver interface {
	ArchiveSession(s model.SessionSummary) error
}

// Event is one entry in the orchestrator's recent-activity log.
type Event struct {
	At        time.Time `json:"at"`
	Type      string    `json:"type"`
	EventID   string    `json:"event_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Status is the pure-read snapshot served by State.
type Status struct {
	Phase     Phase
	Active    *model.SessionHandle
	NextEvent *model.ScheduledSession
	LastTick  time.Time
	TickCount int64
	Recent    []Event
}

// Options configures an Orchestrator.
type Options struct {
	Calendar calendar.Provider
	Quota    *quota.Tracker
	Context  *contextusage.Tracker
	Launcher *launcher.Launcher
	Archive  SessionArchiver
	Notifier notify.Notifier
	Store    *statefile.Store

	LeadTimes []time.Duration
	AutoStart bool
	// StartGrace is the cancellable pause between the trigger decision and
	// the spawn; a stop signal landing inside it prevents the launch.
	StartGrace     time.Duration
	TerminateGrace time.Duration
	LogWaitTimeout time.Duration
	PollInterval   time.Duration

	Now func() time.Time

	// Seams for tests. Defaults dispatch to the launcher and the real
	// monitor.
	Launch    func(cfg model.SessionConfig, eventID string) (model.SessionHandle, error)
	NewStream func(logPath string) LogStream
	Alive     func(pid int) bool
}

type activeSession struct {
	handle  model.SessionHandle
	config  model.SessionConfig
	stream  LogStream
	stopped bool
}

// Orchestrator is the calendar-driven session state machine. Tick is
// synchronous and never overlaps itself; the event-forwarding goroutine of
// an active session is the only other writer, serialized by the mutex.
type Orchestrator struct {
	opts Options

	mu        sync.Mutex
	phase     Phase
	active    *activeSession
	warned    map[string]bool // eventID:leadMinutes
	triggered map[string]bool // eventID
	lastTick  time.Time
	tickCount int64
	nextEvent *model.ScheduledSession
	recent    []Event

	forwardDone chan struct{}
}

// New returns an orchestrator in the idle phase.
func New(opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.StartGrace <= 0 {
		opts.StartGrace = 5 * time.Second
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 10 * time.Second
	}
	if opts.LogWaitTimeout <= 0 {
		opts.LogWaitTimeout = 30 * time.Second
	}
	if len(opts.LeadTimes) == 0 {
		opts.LeadTimes = []time.Duration{30 * time.Minute, 5 * time.Minute}
	}
	if opts.Launch == nil && opts.Launcher != nil {
		opts.Launch = opts.Launcher.Launch
	}
	if opts.NewStream == nil {
		opts.NewStream = func(logPath string) LogStream { return monitor.New(logPath) }
	}
	if opts.Alive == nil {
		opts.Alive = launcher.Alive
	}

	return &Orchestrator{
		opts:      opts,
		phase:     PhaseIdle,
		warned:    make(map[string]bool),
		triggered: make(map[string]bool),
	}
}

// Run ticks until the context is canceled. An active session is terminated
// gracefully on shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.phase = PhasePolling
	o.mu.Unlock()

	o.Tick(ctx)

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one synchronous orchestration pass: service the active session,
// or consult the calendar for warnings and triggers. Safe to call directly;
// Run serializes its own calls.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.mu.Lock()
	o.tickCount++
	o.lastTick = o.opts.Now()
	act := o.active
	o.mu.Unlock()

	if act != nil {
		// Monitor events flow on their own goroutine; the tick only has
		// to notice process exit.
		if !o.opts.Alive(act.handle.PID) {
			act.stream.Stop("process-exit")
			o.awaitForward()
		}
		return
	}

	sessions, err := o.opts.Calendar.Upcoming(ctx)
	if err != nil {
		logging.Logger.Error("calendar poll failed", "error", err)
		return
	}

	now := o.opts.Now()

	o.mu.Lock()
	if next, ok := calendar.NextAfter(sessions, now); ok {
		o.nextEvent = &next
	} else {
		o.nextEvent = nil
	}
	o.mu.Unlock()

	for _, s := range sessions {
		o.checkLeadWarnings(s, now)
	}

	for _, s := range sessions {
		if !s.Start.After(now) && !o.wasTriggered(s.EventID) {
			o.trigger(ctx, s)
			// One launch per tick keeps admission decisions honest.
			return
		}
	}

	o.retryDeferred(ctx, sessions)
}

// checkLeadWarnings fires one notification per configured lead time per
// event. The key never expires, so each warning fires at most once even
// though every tick re-walks the schedule.
func (o *Orchestrator) checkLeadWarnings(s model.ScheduledSession, now time.Time) {
	until := s.Start.Sub(now)
	if until <= 0 {
		return
	}
	for _, lead := range o.opts.LeadTimes {
		if until > lead {
			continue
		}
		key := fmt.Sprintf("%s:%d", s.EventID, int(lead.Minutes()))
		o.mu.Lock()
		already := o.warned[key]
		if !already {
			o.warned[key] = true
		}
		o.mu.Unlock()
		if already {
			continue
		}

		_ = o.opts.Notifier.Notify(notify.Message{
			Title:   "Upcoming session",
			Body:    fmt.Sprintf("%s starts in %s (phase: %s)", s.EventID, until.Round(time.Minute), s.Config.Phase),
			Urgency: notify.UrgencyNormal,
		})
		o.record(Event{Type: "lead-warning", EventID: s.EventID,
			Detail: fmt.Sprintf("%dm lead", int(lead.Minutes()))})
	}
}

func (o *Orchestrator) wasTriggered(eventID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.triggered[eventID]
}

// trigger runs the admission check and, if it passes, launches the session
// and binds the monitor. Failure to produce a log file aborts the trigger:
// the process is torn down and no session goes active.
func (o *Orchestrator) trigger(ctx context.Context, s model.ScheduledSession) {
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		logging.Logger.Warn("trigger skipped, session already active",
			"event_id", s.EventID, "active_session", o.activeSessionIDLocked())
		return
	}
	o.triggered[s.EventID] = true
	o.phase = PhaseTriggering
	o.mu.Unlock()

	estimate := s.Config.BudgetTokens
	if estimate <= 0 {
		estimate = defaultSessionEstimate
	}

	adm, err := o.opts.Quota.CanAdmit(estimate)
	if err != nil {
		logging.Logger.Error("admission check failed", "event_id", s.EventID, "error", err)
		o.setPhase(PhasePolling)
		return
	}
	if !adm.Admit {
		_ = o.opts.Quota.DeferSession(s.EventID, estimate, "window budget exhausted")
		_ = o.opts.Notifier.Notify(notify.Message{
			Title:   "Session deferred",
			Body:    fmt.Sprintf("%s needs ~%d tokens, only %d left; retrying after %s", s.EventID, estimate, adm.Remaining, adm.ResetAt.Format(time.Kitchen)),
			Urgency: notify.UrgencyHigh,
		})
		o.record(Event{Type: "deferred", EventID: s.EventID,
			Detail: fmt.Sprintf("remaining %d < estimate %d", adm.Remaining, estimate)})
		o.setPhase(PhasePolling)
		return
	}

	if !o.opts.AutoStart {
		_ = o.opts.Notifier.Notify(notify.Message{
			Title:   "Session ready",
			Body:    fmt.Sprintf("%s is due and fits the window (%d tokens remaining); auto-start is off", s.EventID, adm.Remaining),
			Urgency: notify.UrgencyNormal,
		})
		o.record(Event{Type: "ready", EventID: s.EventID})
		o.setPhase(PhasePolling)
		return
	}

	if err := o.graceWait(ctx); err != nil {
		logging.Logger.Info("launch canceled during grace wait", "event_id", s.EventID)
		o.record(Event{Type: "launch-aborted", EventID: s.EventID, Detail: "canceled during grace wait"})
		o.setPhase(PhasePolling)
		return
	}

	handle, err := o.opts.Launch(s.Config, s.EventID)
	if err != nil {
		logging.Logger.Error("session launch failed", "event_id", s.EventID, "error", err)
		o.record(Event{Type: "launch-failed", EventID: s.EventID, Detail: err.Error()})
		o.setPhase(PhasePolling)
		return
	}

	if err := launcher.WaitForLogFile(ctx, handle.LogPath, o.opts.LogWaitTimeout); err != nil {
		logging.Logger.Error("session log never appeared, aborting trigger",
			"event_id", s.EventID, "session_id", handle.SessionID, "error", err)
		_ = launcher.Terminate(handle.PID, o.opts.TerminateGrace)
		if errors.Is(err, launcher.ErrLogFileTimeout) {
			_ = o.opts.Notifier.Notify(notify.Message{
				Title:   "Session failed to start",
				Body:    fmt.Sprintf("%s produced no log within %s", s.EventID, o.opts.LogWaitTimeout),
				Urgency: notify.UrgencyCritical,
			})
		}
		o.record(Event{Type: "launch-aborted", EventID: s.EventID, SessionID: handle.SessionID})
		o.setPhase(PhasePolling)
		return
	}

	if err := o.opts.Context.StartSession(handle.SessionID); err != nil {
		logging.Logger.Error("context tracker reset failed", "error", err)
	}

	stream := o.opts.NewStream(handle.LogPath)
	if err := stream.Start(); err != nil {
		logging.Logger.Error("monitor start failed", "session_id", handle.SessionID, "error", err)
		_ = launcher.Terminate(handle.PID, o.opts.TerminateGrace)
		o.setPhase(PhasePolling)
		return
	}

	act := &activeSession{handle: handle, config: s.Config, stream: stream}

	o.mu.Lock()
	o.active = act
	o.phase = PhaseActive
	o.forwardDone = make(chan struct{})
	o.mu.Unlock()

	if o.opts.Store != nil {
		_ = o.opts.Store.Save(handleStateKind, statefile.CurrentID, handle)
	}
	_ = o.opts.Quota.ClearDeferred(s.EventID)
	o.record(Event{Type: "launched", EventID: s.EventID, SessionID: handle.SessionID})

	go o.forward(act)
}

// graceWait blocks for the start grace or until the context is canceled,
// whichever comes first. With the grace disabled it still refuses a dead
// context so no launch can follow a shutdown signal.
func (o *Orchestrator) graceWait(ctx context.Context) error {
	if o.opts.StartGrace <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.opts.StartGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDeferred relaunches deferred sessions whose retry instant has passed,
// looking their config back up in the current schedule.
func (o *Orchestrator) retryDeferred(ctx context.Context, sessions []model.ScheduledSession) {
	due, err := o.opts.Quota.DueDeferred()
	if err != nil || len(due) == 0 {
		return
	}

	byEvent := make(map[string]model.ScheduledSession, len(sessions))
	for _, s := range sessions {
		byEvent[s.EventID] = s
	}

	for _, d := range due {
		s, ok := byEvent[d.ID]
		if !ok {
			// Entry left the schedule while deferred. Drop the intent.
			logging.Logger.Warn("deferred session no longer scheduled", "event_id", d.ID)
			_ = o.opts.Quota.ClearDeferred(d.ID)
			continue
		}
		o.mu.Lock()
		delete(o.triggered, s.EventID)
		o.mu.Unlock()
		o.trigger(ctx, s)
		return
	}
}

// forward pumps monitor events into the trackers until the stream ends,
// then finalizes the session.
func (o *Orchestrator) forward(act *activeSession) {
	for ev := range act.stream.Events() {
		o.handleEvent(act, ev)
	}
	o.finalize(act)

	o.mu.Lock()
	done := o.forwardDone
	o.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (o *Orchestrator) awaitForward() {
	o.mu.Lock()
	done := o.forwardDone
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) handleEvent(act *activeSession, ev monitor.Event) {
	switch e := ev.(type) {
	case monitor.TokenDelta:
		// Cache reads are nearly free and do not count against the
		// window budget.
		if err := o.opts.Quota.RecordConsumption(act.handle.SessionID, e.Input+e.Output); err != nil {
			logging.Logger.Error("quota record failed", "error", err)
		}
		if e.Output > 0 {
			_ = o.opts.Context.TrackConversation(e.Output)
		}
	case monitor.ToolCall:
		o.record(Event{Type: "tool-call", SessionID: act.handle.SessionID, Detail: e.Tool})
	case monitor.ToolResult:
		tool := e.Tool
		if tool == "" {
			tool = "unknown"
		}
		_ = o.opts.Context.TrackToolResult(tool, estimateTokens(e.Content))
	case monitor.ObjectiveDone:
		o.record(Event{Type: "objective", SessionID: act.handle.SessionID, Detail: e.Objective})
		_ = o.opts.Notifier.Notify(notify.Message{
			Title:   "Objective completed",
			Body:    e.Objective,
			Urgency: notify.UrgencyNormal,
		})
	case monitor.Stopped:
		o.record(Event{Type: "stream-ended", SessionID: act.handle.SessionID, Detail: e.Reason})
	case monitor.StreamError:
		logging.Logger.Error("monitor stream error", "session_id", act.handle.SessionID, "error", e.Err)
	case monitor.RawLine:
		logging.Logger.Debug("unparseable log line", "session_id", act.handle.SessionID, "line", e.Line)
	}
}

// finalize archives the session summary and returns the orchestrator to
// polling.
func (o *Orchestrator) finalize(act *activeSession) {
	o.setPhase(PhaseCompleting)

	metrics := act.stream.Metrics()
	summary := model.SessionSummary{
		SessionID:           act.handle.SessionID,
		EventID:             act.handle.EventID,
		Phase:               act.config.Phase,
		StartedAt:           act.handle.StartedAt,
		EndedAt:             o.opts.Now(),
		InputTokens:         metrics.InputTokens,
		OutputTokens:        metrics.OutputTokens,
		CacheReadTokens:     metrics.CacheReadTokens,
		ToolCalls:           metrics.ToolCalls,
		ObjectivesCompleted: len(metrics.Objectives),
		EstimatedCost:       metrics.EstimatedCost,
	}

	if o.opts.Archive != nil {
		if err := o.opts.Archive.ArchiveSession(summary); err != nil {
			logging.Logger.Error("session archive failed", "session_id", summary.SessionID, "error", err)
		}
	}
	if o.opts.Store != nil {
		_ = o.opts.Store.Remove(handleStateKind, statefile.CurrentID)
	}

	_ = o.opts.Notifier.Notify(notify.Message{
		Title: "Session complete",
		Body: fmt.Sprintf("%s finished: %d objectives, %d tokens out, $%.2f",
			summary.EventID, summary.ObjectivesCompleted, summary.OutputTokens, summary.EstimatedCost),
		Urgency: notify.UrgencyNormal,
	})
	o.record(Event{Type: "completed", EventID: summary.EventID, SessionID: summary.SessionID})

	o.mu.Lock()
	o.active = nil
	o.phase = PhasePolling
	o.mu.Unlock()
}

// shutdown terminates an active session and drains its monitor.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	act := o.active
	o.mu.Unlock()
	if act == nil {
		return
	}

	if o.opts.Alive(act.handle.PID) {
		_ = launcher.Terminate(act.handle.PID, o.opts.TerminateGrace)
	}
	act.stream.Stop("orchestrator-shutdown")
	o.awaitForward()
}

// State returns a snapshot without mutating anything.
func (o *Orchestrator) State() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Phase:     o.phase,
		LastTick:  o.lastTick,
		TickCount: o.tickCount,
		Recent:    append([]Event(nil), o.recent...),
	}
	if o.active != nil {
		h := o.active.handle
		st.Active = &h
	}
	if o.nextEvent != nil {
		n := *o.nextEvent
		st.NextEvent = &n
	}
	return st
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

func (o *Orchestrator) activeSessionIDLocked() string {
	if o.active == nil {
		return ""
	}
	return o.active.handle.SessionID
}

func (o *Orchestrator) record(ev Event) {
	ev.At = o.opts.Now()
	o.mu.Lock()
	o.recent = append(o.recent, ev)
	if len(o.recent) > eventsRetained {
		o.recent = o.recent[len(o.recent)-eventsRetained:]
	}
	o.mu.Unlock()
}

// estimateTokens approximates token count from payload size at four bytes
// per token.
func estimateTokens(content string) int64 {
	n := int64(len(content)) / 4
	if n == 0 {
		n = 1
	}
	return n
}
