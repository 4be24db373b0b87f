// Package launcher starts detached Claude Code agent sessions and manages
// their process lifecycle.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/theirongolddev/cwarden/internal/logging"
	"github.com/theirongolddev/cwarden/internal/model"
)

// ErrLogFileTimeout is returned when a launched session never produces its
// log file within the wait window.
var ErrLogFileTimeout = errors.New("session log file did not appear in time")

const logFilePollInterval = 250 * time.Millisecond

// Launcher spawns agent processes detached from the current one. The spawned
// process writes its own JSONL session log under the Claude projects tree;
// the launcher only predicts where.
type Launcher struct {
	// ClaudeDir is the root of the Claude data directory (~/.claude).
	ClaudeDir string
	// AgentCommand is the executable to spawn, normally "claude".
	AgentCommand string
	// SpawnLogDir receives per-session stdout/stderr capture files.
	SpawnLogDir string
}

// New returns a launcher rooted at the given Claude directory.
func New(claudeDir, agentCommand, spawnLogDir string) *Launcher {
	return &Launcher{
		ClaudeDir:    claudeDir,
		AgentCommand: agentCommand,
		SpawnLogDir:  spawnLogDir,
	}
}

// Launch starts a detached agent process for the given session config and
// returns its handle. The process is not waited on; its exit is observed
// later through Alive.
func (l *Launcher) Launch(cfg model.SessionConfig, eventID string) (model.SessionHandle, error) {
	sessionID := uuid.NewString()
	logPath := l.LogPath(cfg.ProjectDir, sessionID)

	if err := os.MkdirAll(l.SpawnLogDir, 0o750); err != nil {
		return model.SessionHandle{}, fmt.Errorf("create spawn log directory: %w", err)
	}
	spawnLog := filepath.Join(l.SpawnLogDir, sessionID+".log")
	//nolint:gosec // spawn log path is derived from a generated UUID
	logf, err := os.OpenFile(spawnLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return model.SessionHandle{}, fmt.Errorf("open spawn log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	args := []string{
		"--print",
		"--session-id", sessionID,
		BuildPrompt(cfg),
	}

	cmd := exec.Command(l.AgentCommand, args...) //nolint:gosec // agent command comes from local config
	cmd.Dir = cfg.ProjectDir
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()
	// New session so the agent survives this process exiting.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return model.SessionHandle{}, fmt.Errorf("start agent process: %w", err)
	}
	pid := cmd.Process.Pid
	// Reap the child in the background so it never zombies.
	go func() { _ = cmd.Wait() }()

	logging.Logger.Info("launched agent session",
		"session_id", sessionID, "pid", pid, "project", cfg.ProjectDir, "event_id", eventID)

	return model.SessionHandle{
		PID:       pid,
		SessionID: sessionID,
		EventID:   eventID,
		LogPath:   logPath,
		StartedAt: time.Now(),
	}, nil
}

// LogPath predicts where the agent will write the session's JSONL log.
func (l *Launcher) LogPath(projectDir, sessionID string) string {
	return filepath.Join(l.ClaudeDir, "projects", EncodeProjectPath(projectDir), sessionID+".jsonl")
}

// EncodeProjectPath converts an absolute project path into the flattened
// directory name Claude Code uses under projects/. Separators and dots
// become dashes: /home/user/my.app -> -home-user-my-app
func EncodeProjectPath(projectDir string) string {
	encoded := strings.ReplaceAll(projectDir, "/", "-")
	encoded = strings.ReplaceAll(encoded, ".", "-")
	encoded = strings.ReplaceAll(encoded, "_", "-")
	return encoded
}

// BuildPrompt renders the launch prompt from a session config. Objectives
// are numbered so completion markers can reference them.
func BuildPrompt(cfg model.SessionConfig) string {
	var b strings.Builder
	if cfg.Phase != "" {
		fmt.Fprintf(&b, "Phase: %s\n\n", cfg.Phase)
	}
	b.WriteString("Work through these objectives in order:\n")
	for i, obj := range cfg.Objectives {
		fmt.Fprintf(&b, "%d. %s\n", i+1, obj)
	}
	b.WriteString("\nAfter finishing each objective, print a line of the form\n")
	b.WriteString("OBJECTIVE COMPLETED: <objective>\n")
	if cfg.BudgetTokens > 0 {
		fmt.Fprintf(&b, "\nStay within roughly %d tokens for this session.\n", cfg.BudgetTokens)
	}
	return b.String()
}

// WaitForLogFile blocks until the session log exists or the timeout lapses.
// Cancellation via ctx wins over the timeout.
func WaitForLogFile(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(logFilePollInterval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLogFileTimeout, path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Alive reports whether the process still exists. Signal 0 probes without
// touching the process; EPERM still means alive.
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate asks the process to exit with SIGTERM, polls for the grace
// period, then escalates to SIGKILL.
func Terminate(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find agent process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal agent process: %w", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	logging.Logger.Warn("agent ignored SIGTERM, escalating", "pid", pid)
	if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill agent process: %w", err)
	}
	return nil
}
