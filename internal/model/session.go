package model

import "time"

// SessionLiveness tracks an orchestrated session window through its life.
type SessionLiveness string

const (
	SessionPending  SessionLiveness = "pending"
	SessionActive   SessionLiveness = "active"
	SessionComplete SessionLiveness = "complete"
	SessionExpired  SessionLiveness = "expired"
)

// SessionConfig is the opaque configuration bundle a scheduled entry
// carries. The orchestrator reads it; only the scheduling side writes it.
type SessionConfig struct {
	ProjectDir   string   `yaml:"project_dir" json:"project_dir"`
	BudgetTokens int64    `yaml:"budget_tokens" json:"budget_tokens"`
	Phase        string   `yaml:"phase" json:"phase"`
	Objectives   []string `yaml:"objectives" json:"objectives"`
}

// ScheduledSession is one upcoming entry from the calendar provider.
type ScheduledSession struct {
	EventID string        `yaml:"event_id" json:"event_id"`
	Start   time.Time     `yaml:"start" json:"start"`
	Config  SessionConfig `yaml:"config" json:"config"`
}

// SessionWindow is the orchestrator's record of one scheduled session from
// discovery to completion.
type SessionWindow struct {
	ID         string
	EventID    string
	Start      time.Time
	End        time.Time
	Liveness   SessionLiveness
	TokensUsed int64
}

// SessionHandle references a launched agent process and its log location.
type SessionHandle struct {
	PID       int
	SessionID string
	EventID   string
	LogPath   string
	StartedAt time.Time
}

// SessionSummary holds the finalized metrics of a completed session,
// archived for post-hoc reporting.
type SessionSummary struct {
	SessionID           string
	EventID             string
	Phase               string
	StartedAt           time.Time
	EndedAt             time.Time
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	ToolCalls           int
	ObjectivesCompleted int
	EstimatedCost       float64
}
