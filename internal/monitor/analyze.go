package monitor

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

// SessionReport is the result of replaying a complete session log.
type SessionReport struct {
	Metrics  Metrics
	Duration time.Duration
}

// AnalyzeSessionLog replays an entire log file through the same classifier
// the live tailer uses. Token dedup, objective dedup, and malformed-line
// tolerance behave identically to live monitoring.
func AnalyzeSessionLog(path string) (SessionReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionReport{}, fmt.Errorf("open session log: %w", err)
	}
	defer func() { _ = f.Close() }()

	cls := newClassifier()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)
	for scanner.Scan() {
		cls.classify(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return SessionReport{}, fmt.Errorf("read session log: %w", err)
	}

	report := SessionReport{Metrics: cls.metrics}
	if !report.Metrics.FirstEventAt.IsZero() && !report.Metrics.LastEventAt.IsZero() {
		report.Duration = report.Metrics.LastEventAt.Sub(report.Metrics.FirstEventAt)
	}
	return report, nil
}
