// Package calendar supplies upcoming scheduled sessions to the
// orchestrator.
package calendar

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theirongolddev/cwarden/internal/model"
)

// Provider yields the upcoming scheduled sessions, soonest first. Entries
// whose start time has passed may still be returned; the orchestrator
// decides whether a late trigger is worth firing.
type Provider interface {
	Upcoming(ctx context.Context) ([]model.ScheduledSession, error)
}

// scheduleFile is the on-disk YAML document a FileProvider reads.
type scheduleFile struct {
	Sessions []model.ScheduledSession `yaml:"sessions"`
}

// FileProvider reads a YAML schedule file on every call, so edits to the
// schedule are picked up on the next orchestrator tick without a restart.
type FileProvider struct {
	Path string
}

// NewFileProvider returns a provider backed by the given schedule file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// Upcoming parses the schedule file and returns its entries sorted by start
// time. A missing file is an empty schedule, not an error.
func (p *FileProvider) Upcoming(_ context.Context) ([]model.ScheduledSession, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var doc scheduleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}

	sessions := make([]model.ScheduledSession, 0, len(doc.Sessions))
	for _, s := range doc.Sessions {
		if s.EventID == "" || s.Start.IsZero() {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Start.Before(sessions[j].Start)
	})
	return sessions, nil
}

// NextAfter returns the first entry starting at or after t, if any.
func NextAfter(sessions []model.ScheduledSession, t time.Time) (model.ScheduledSession, bool) {
	for _, s := range sessions {
		if !s.Start.Before(t) {
			return s, true
		}
	}
	return model.ScheduledSession{}, false
}
