// Package model defines domain types for cwarden sessions, quota windows,
// and context usage records.
package model

import "time"

// SessionUsage records the tokens one session consumed inside a quota window.
type SessionUsage struct {
	SessionID  string    `json:"session_id"`
	TokensUsed int64     `json:"tokens_used"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DeferredSession is a scheduled session pushed past the window reset
// because the remaining quota could not admit it.
type DeferredSession struct {
	ID              string    `json:"id"`
	EstimatedTokens int64     `json:"estimated_tokens"`
	DueAt           time.Time `json:"due_at"`
	Reason          string    `json:"reason"`
}

// QuotaWindow is the rolling token-budget window. It is loaded wholesale,
// mutated in memory, and written back wholesale; there is no partial-update
// path. ResetAt is always WindowStart + WindowDuration.
type QuotaWindow struct {
	Plan           string            `json:"plan"`
	CapacityTokens int64             `json:"capacity_tokens"`
	WindowDuration time.Duration     `json:"window_duration"`
	WindowStart    time.Time         `json:"window_start"`
	ResetAt        time.Time         `json:"reset_at"`
	TokensUsed     int64             `json:"tokens_used"`
	Sessions       []SessionUsage    `json:"sessions"`
	Deferred       []DeferredSession `json:"deferred,omitempty"`

	// LastWarnBand is the highest usage band (percent) already notified for
	// this window. It only moves up; a rollover resets it to zero.
	LastWarnBand int `json:"last_warn_band"`
}

// Opened reports whether the window clock has started. The clock opens
// lazily on the first non-zero consumption report.
func (w *QuotaWindow) Opened() bool {
	return !w.WindowStart.IsZero()
}

// Remaining returns the unconsumed capacity, floored at zero.
func (w *QuotaWindow) Remaining() int64 {
	r := w.CapacityTokens - w.TokensUsed
	if r < 0 {
		return 0
	}
	return r
}

// UsedPercent returns consumption as a percentage of capacity.
func (w *QuotaWindow) UsedPercent() float64 {
	if w.CapacityTokens <= 0 {
		return 0
	}
	return float64(w.TokensUsed) / float64(w.CapacityTokens) * 100
}

// Admission is the outcome of a quota admission check. A negative outcome
// is a normal decision, not an error; ResetAt is the earliest retry instant.
type Admission struct {
	Admit     bool
	Remaining int64
	ResetAt   time.Time
}

// QuotaStatus is the pure-read view of the current window.
type QuotaStatus struct {
	Plan           string
	CapacityTokens int64
	TokensUsed     int64
	Remaining      int64
	UsedPercent    float64
	WindowStart    time.Time
	ResetAt        time.Time
	Sessions       int
	Deferred       int
	Recommendation string
}
