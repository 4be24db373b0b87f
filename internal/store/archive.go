// Package store provides the SQLite-backed archive of exhausted quota
// windows and completed session summaries.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/cwarden/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Archive is the append-mostly history database. The live quota window and
// context record never live here; they roll in only when a window expires or
// a session completes.
type Archive struct {
	db *sql.DB
}

// Open opens or creates the archive database at the given path.
func Open(dbPath string) (*Archive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening archive db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// ArchiveWindow stores an expired quota window with its per-session usage.
func (a *Archive) ArchiveWindow(w model.QuotaWindow) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(`INSERT INTO quota_windows
		(plan, capacity_tokens, window_start, reset_at, tokens_used, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.Plan, w.CapacityTokens,
		w.WindowStart.UTC().Format(time.RFC3339), w.ResetAt.UTC().Format(time.RFC3339),
		w.TokensUsed, now,
	)
	if err != nil {
		return err
	}
	windowID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, s := range w.Sessions {
		_, err = tx.Exec(`INSERT INTO window_sessions
			(window_id, session_id, tokens_used, recorded_at)
			VALUES (?, ?, ?, ?)`,
			windowID, s.SessionID, s.TokensUsed, s.RecordedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ArchiveSession stores a completed session's summary. Re-archiving the same
// session replaces the earlier row.
func (a *Archive) ArchiveSession(s model.SessionSummary) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := a.db.Exec(`INSERT OR REPLACE INTO session_summaries
		(session_id, event_id, phase, started_at, ended_at,
		 input_tokens, output_tokens, cache_read_tokens,
		 tool_calls, objectives_completed, estimated_cost, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.EventID, s.Phase,
		s.StartedAt.UTC().Format(time.RFC3339), s.EndedAt.UTC().Format(time.RFC3339),
		s.InputTokens, s.OutputTokens, s.CacheReadTokens,
		s.ToolCalls, s.ObjectivesCompleted, s.EstimatedCost, now,
	)
	return err
}

// ArchivedWindow is one historical quota window row.
type ArchivedWindow struct {
	ID             int64
	Plan           string
	CapacityTokens int64
	WindowStart    time.Time
	ResetAt        time.Time
	TokensUsed     int64
	Sessions       int
}

// RecentWindows returns the newest archived windows, most recent first.
func (a *Archive) RecentWindows(limit int) ([]ArchivedWindow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`SELECT
		w.id, w.plan, w.capacity_tokens, w.window_start, w.reset_at, w.tokens_used,
		(SELECT COUNT(*) FROM window_sessions ws WHERE ws.window_id = w.id)
		FROM quota_windows w
		ORDER BY w.window_start DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var windows []ArchivedWindow
	for rows.Next() {
		var w ArchivedWindow
		var startStr, resetStr string
		if err := rows.Scan(&w.ID, &w.Plan, &w.CapacityTokens, &startStr, &resetStr, &w.TokensUsed, &w.Sessions); err != nil {
			return nil, err
		}
		w.WindowStart, _ = time.Parse(time.RFC3339, startStr)
		w.ResetAt, _ = time.Parse(time.RFC3339, resetStr)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// RecentSessions returns the newest archived session summaries, most recent
// first.
func (a *Archive) RecentSessions(limit int) ([]model.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`SELECT
		session_id, event_id, phase, started_at, ended_at,
		input_tokens, output_tokens, cache_read_tokens,
		tool_calls, objectives_completed, estimated_cost
		FROM session_summaries
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []model.SessionSummary
	for rows.Next() {
		var s model.SessionSummary
		var startStr, endStr sql.NullString
		err := rows.Scan(&s.SessionID, &s.EventID, &s.Phase, &startStr, &endStr,
			&s.InputTokens, &s.OutputTokens, &s.CacheReadTokens,
			&s.ToolCalls, &s.ObjectivesCompleted, &s.EstimatedCost)
		if err != nil {
			return nil, err
		}
		if startStr.Valid && startStr.String != "" {
			s.StartedAt, _ = time.Parse(time.RFC3339, startStr.String)
		}
		if endStr.Valid && endStr.String != "" {
			s.EndedAt, _ = time.Parse(time.RFC3339, endStr.String)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// WindowCount returns the number of archived quota windows.
func (a *Archive) WindowCount() (int, error) {
	var count int
	err := a.db.QueryRow("SELECT COUNT(*) FROM quota_windows").Scan(&count)
	return count, err
}
