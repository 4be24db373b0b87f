package monitor

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/theirongolddev/cwarden/internal/config"
)

// rawEntry represents a single line in a Claude Code JSONL session file.
type rawEntry struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   *rawMessage `json:"message,omitempty"`
}

// rawMessage is the message envelope of an assistant or user entry.
type rawMessage struct {
	ID      string       `json:"id"`
	Role    string       `json:"role"`
	Model   string       `json:"model"`
	Usage   *rawUsage    `json:"usage,omitempty"`
	Content []rawContent `json:"content,omitempty"`
}

// rawContent is one block of a message's content array.
type rawContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// rawUsage holds token counts from the API response.
type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// billed is one API call's final token accounting, keyed by message ID so a
// later line for the same completion supersedes the earlier one.
type billed struct {
	input     int64
	output    int64
	cacheRead int64
	cost      float64
}

// objectivePat matches an objective-completion marker in assistant text.
// The marker text after the colon identifies the objective.
var objectivePat = regexp.MustCompile(`(?i)objective\s+completed?\s*:\s*([^\n]+)`)

// Metrics is the running aggregate a classifier maintains over a stream.
type Metrics struct {
	SessionID       string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	CacheReadTokens int64
	EstimatedCost   float64
	ToolCalls       int
	Objectives      []string
	Lines           int
	ParseErrors     int
	FirstEventAt    time.Time
	LastEventAt     time.Time
}

// classifier turns JSONL lines into events. It is shared by the live tailer
// and the one-shot replay and carries all per-stream dedup state.
type classifier struct {
	calls        map[string]billed
	objectives   map[string]struct{}
	pendingTools map[string]string // tool_use id -> tool name
	metrics      Metrics
}

func newClassifier() *classifier {
	return &classifier{
		calls:        make(map[string]billed),
		objectives:   make(map[string]struct{}),
		pendingTools: make(map[string]string),
	}
}

// classify routes a complete line to its handler and returns the events it
// produced. Malformed lines yield a RawLine event and never an error.
//
// Routing by top-level "type" field:
//   - "assistant" → token usage, tool_use blocks, objective markers
//   - "user"      → tool_result blocks
//   - everything else → skip
func (c *classifier) classify(line []byte) []Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	c.metrics.Lines++

	switch entryType := extractTopLevelType(line); entryType {
	case "assistant":
		return c.classifyAssistant(line)
	case "user":
		return c.classifyUser(line)
	case "":
		// No top-level type key means the line is not a session entry.
		// Forward it raw so nothing in the stream is silently lost.
		c.metrics.ParseErrors++
		return []Event{RawLine{Line: string(line)}}
	default:
		// Recognized entry type we have no use for (system, summary, ...).
		return nil
	}
}

func (c *classifier) classifyAssistant(line []byte) []Event {
	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		c.metrics.ParseErrors++
		return []Event{RawLine{Line: string(line)}}
	}

	var events []Event
	ts := c.observe(&entry)

	if entry.Message != nil {
		if entry.Message.ID != "" && entry.Message.Usage != nil {
			if ev, ok := c.applyUsage(entry.Message, ts); ok {
				events = append(events, ev)
			}
		}
		for _, block := range entry.Message.Content {
			switch block.Type {
			case "tool_use":
				c.metrics.ToolCalls++
				if block.ID != "" {
					c.pendingTools[block.ID] = block.Name
				}
				events = append(events, ToolCall{Tool: block.Name, ID: block.ID})
			case "text":
				events = append(events, c.scanObjectives(block.Text)...)
			}
		}
	}
	return events
}

func (c *classifier) classifyUser(line []byte) []Event {
	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		c.metrics.ParseErrors++
		return []Event{RawLine{Line: string(line)}}
	}

	var events []Event
	c.observe(&entry)

	if entry.Message != nil {
		for _, block := range entry.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			events = append(events, ToolResult{
				ToolUseID: block.ToolUseID,
				Tool:      c.pendingTools[block.ToolUseID],
				Content:   flattenResultContent(block.Content),
			})
		}
	}
	return events
}

// applyUsage folds a message's usage into the running totals, deduplicating
// by message ID. A repeated ID contributes only the difference against its
// previous billing, so re-emitted completions never double-count.
func (c *classifier) applyUsage(msg *rawMessage, ts time.Time) (TokenDelta, bool) {
	u := msg.Usage
	next := billed{
		input:     u.InputTokens + u.CacheCreationInputTokens,
		output:    u.OutputTokens,
		cacheRead: u.CacheReadInputTokens,
	}
	next.cost = config.CalculateCost(msg.Model,
		u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)

	prev := c.calls[msg.ID]
	delta := TokenDelta{
		SessionID:  c.metrics.SessionID,
		Model:      msg.Model,
		Input:      next.input - prev.input,
		Output:     next.output - prev.output,
		CacheRead:  next.cacheRead - prev.cacheRead,
		CostDelta:  next.cost - prev.cost,
		ObservedAt: ts,
	}
	c.calls[msg.ID] = next

	if delta.Input == 0 && delta.Output == 0 && delta.CacheRead == 0 {
		return TokenDelta{}, false
	}

	c.metrics.InputTokens += delta.Input
	c.metrics.OutputTokens += delta.Output
	c.metrics.CacheReadTokens += delta.CacheRead
	c.metrics.EstimatedCost += delta.CostDelta
	if msg.Model != "" {
		c.metrics.Model = config.NormalizeModelName(msg.Model)
	}
	return delta, true
}

// scanObjectives finds completion markers in a text block. Each distinct
// objective fires once per stream.
func (c *classifier) scanObjectives(text string) []Event {
	var events []Event
	for _, m := range objectivePat.FindAllStringSubmatch(text, -1) {
		objective := strings.TrimSpace(m[1])
		if objective == "" {
			continue
		}
		key := strings.ToLower(objective)
		if _, seen := c.objectives[key]; seen {
			continue
		}
		c.objectives[key] = struct{}{}
		c.metrics.Objectives = append(c.metrics.Objectives, objective)
		events = append(events, ObjectiveDone{Objective: objective})
	}
	return events
}

// observe records session identity and the entry's timestamp range.
func (c *classifier) observe(entry *rawEntry) time.Time {
	if c.metrics.SessionID == "" && entry.SessionID != "" {
		c.metrics.SessionID = entry.SessionID
	}
	if entry.Timestamp == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return time.Time{}
	}
	if c.metrics.FirstEventAt.IsZero() || ts.Before(c.metrics.FirstEventAt) {
		c.metrics.FirstEventAt = ts
	}
	if ts.After(c.metrics.LastEventAt) {
		c.metrics.LastEventAt = ts
	}
	return ts
}

// flattenResultContent renders a tool_result payload as text. The payload is
// either a plain string or an array of content blocks.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []rawContent
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// typeKey is the byte sequence for a JSON key named "type" (with quotes).
var typeKey = []byte(`"type"`)

// extractTopLevelType finds the top-level "type" field in a JSONL line.
// Tracks brace depth and string boundaries so nested "type" keys are ignored,
// and early-exits once found.
func extractTopLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				val, isKey := classifyTypeKey(line, i+len(typeKey))
				if isKey {
					return val
				}
				// "type" appeared as a value, not a key. Keep scanning.
			}
			i = skipJSONString(line, i)
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// classifyTypeKey checks whether pos follows a JSON key (expects : then a
// string value) and returns the value.
func classifyTypeKey(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true
	}
	i++

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 20 {
		return "", true
	}
	return string(line[i : i+end]), true
}

// skipJSONString advances past a JSON string starting at the opening quote.
func skipJSONString(line []byte, i int) int {
	i++
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && line[i] == ' ' {
		i++
	}
	return i
}
