package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func assistantUsageLine(msgID string, input, output int64) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":"sess-live","message":{"id":%q,"model":"claude-sonnet-4-5","usage":{"input_tokens":%d,"output_tokens":%d}}}`,
		msgID, input, output)
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestTailerSkipsHistoryAndEmitsAppendsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	// History written before the monitor starts must never be emitted.
	appendLine(t, path, assistantUsageLine("msg_old", 9999, 9999))

	m := New(path, WithPollInterval(10*time.Millisecond))
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	appendLine(t, path, assistantUsageLine("msg_1", 1000, 100))
	appendLine(t, path, assistantUsageLine("msg_2", 2000, 200))

	first := nextEvent(t, m.Events()).(TokenDelta)
	second := nextEvent(t, m.Events()).(TokenDelta)
	if first.Input != 1000 || second.Input != 2000 {
		t.Errorf("deltas = %d, %d; want 1000, 2000 in order", first.Input, second.Input)
	}

	// A later burst after idle polls must not re-read the cursor region.
	appendLine(t, path, assistantUsageLine("msg_3", 3000, 300))
	third := nextEvent(t, m.Events()).(TokenDelta)
	if third.Input != 3000 {
		t.Errorf("third delta = %d, want 3000", third.Input)
	}

	m.Stop("test-done")
	if ev := nextEvent(t, m.Events()); ev.(Stopped).Reason != "test-done" {
		t.Errorf("stopped event = %+v", ev)
	}
	if _, ok := <-m.Events(); ok {
		t.Error("channel not closed after Stopped")
	}

	metrics := m.Metrics()
	if metrics.InputTokens != 6000 {
		t.Errorf("InputTokens = %d, want 6000 (history excluded)", metrics.InputTokens)
	}
}

func TestTailerCarriesPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(path, WithPollInterval(10*time.Millisecond))
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop("test-done")

	line := assistantUsageLine("msg_1", 500, 50)
	half := len(line) / 2

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(line[:half]); err != nil {
		t.Fatal(err)
	}
	// Give the poller time to observe the torn write.
	time.Sleep(50 * time.Millisecond)
	if _, err := f.WriteString(line[half:] + "\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	delta, ok := nextEvent(t, m.Events()).(TokenDelta)
	if !ok || delta.Input != 500 {
		t.Fatalf("reassembled line yielded %+v, want 500-token delta", delta)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(path, WithPollInterval(10*time.Millisecond))
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	go func() {
		for range m.Events() {
		}
	}()

	m.Stop("first")
	m.Stop("second")
	m.Stop("second")
}

func TestStopWithoutStartReturns(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "never-started.jsonl"))

	done := make(chan struct{})
	go func() {
		m.Stop("abandoned")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop on a never-started monitor did not return")
	}
}

func TestStartMissingFileFails(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err := m.Start(); err == nil {
		t.Fatal("Start succeeded on a missing log file")
	}
}

func TestAnalyzeSessionLogReplaysEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	appendLine(t, path, assistantUsageLine("msg_1", 1000, 100))
	appendLine(t, path, assistantUsageLine("msg_1", 1000, 100)) // duplicate
	appendLine(t, path, `{"type":"assistant","message":{"id":"msg_2","model":"claude-sonnet-4-5","content":[{"type":"tool_use","id":"toolu_1","name":"Grep"},{"type":"text","text":"objective completed: index the corpus"}]}}`)
	appendLine(t, path, `not json at all`)
	appendLine(t, path, `{"type":"system","durationMs":10}`)

	report, err := AnalyzeSessionLog(path)
	if err != nil {
		t.Fatal(err)
	}

	metrics := report.Metrics
	if metrics.InputTokens != 1000 || metrics.OutputTokens != 100 {
		t.Errorf("tokens = %d/%d, want 1000/100 after dedup", metrics.InputTokens, metrics.OutputTokens)
	}
	if metrics.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", metrics.ToolCalls)
	}
	if len(metrics.Objectives) != 1 || metrics.Objectives[0] != "index the corpus" {
		t.Errorf("Objectives = %v", metrics.Objectives)
	}
	if metrics.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", metrics.ParseErrors)
	}
	if metrics.SessionID != "sess-live" {
		t.Errorf("SessionID = %q, want sess-live", metrics.SessionID)
	}
	if metrics.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", metrics.Model)
	}
}
