// Package monitor follows a Claude Code JSONL session log as the agent
// writes it, classifies entries, and emits typed events for the
// orchestrator and trackers.
package monitor

import "time"

// Event is the sealed set of notifications the monitor emits. Consumers
// switch on the concrete type; there is no generic emit/on surface.
type Event interface {
	monitorEvent()
}

// TokenDelta reports newly billed tokens from an assistant entry. Input
// includes cache-creation tokens; cache reads are tracked separately and
// priced at their discounted rate.
type TokenDelta struct {
	SessionID  string
	Model      string
	Input      int64
	Output     int64
	CacheRead  int64
	CostDelta  float64
	ObservedAt time.Time
}

// ToolCall reports one tool invocation by the assistant.
type ToolCall struct {
	Tool string
	ID   string
}

// ToolResult reports a tool-result payload carried by a user entry. Tool is
// resolved from the matching tool_use block when one was seen.
type ToolResult struct {
	ToolUseID string
	Tool      string
	Content   string
}

// ObjectiveDone reports an objective-completion marker found in assistant
// text. Identical completions are deduplicated within a session.
type ObjectiveDone struct {
	Objective string
}

// RawLine carries a line the classifier could not parse. Malformed lines
// never abort the stream.
type RawLine struct {
	Line string
}

// Stopped is the final event before the channel closes.
type Stopped struct {
	Reason string
}

// StreamError reports a read failure on the underlying log.
type StreamError struct {
	Err error
}

func (TokenDelta) monitorEvent()    {}
func (ToolCall) monitorEvent()      {}
func (ToolResult) monitorEvent()    {}
func (ObjectiveDone) monitorEvent() {}
func (RawLine) monitorEvent()       {}
func (Stopped) monitorEvent()       {}
func (StreamError) monitorEvent()   {}
