package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/calendar"
	"github.com/theirongolddev/cwarden/internal/cli"
	"github.com/theirongolddev/cwarden/internal/config"
	"github.com/theirongolddev/cwarden/internal/launcher"
	"github.com/theirongolddev/cwarden/internal/model"
	"github.com/theirongolddev/cwarden/internal/orchestrator"
	"github.com/theirongolddev/cwarden/internal/quota"
	"github.com/theirongolddev/cwarden/internal/statefile"
)

var (
	flagWatchInterval time.Duration
	flagWatchDetach   bool
	flagWatchPIDFile  string
	flagWatchLogFile  string
	flagWatchSchedule string
	flagWatchChild    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the calendar orchestrator",
	Long: "Poll the session schedule, warn ahead of upcoming sessions, and\n" +
		"launch, monitor, and archive them when they come due.",
	RunE: runWatch,
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator process status",
	RunE:  runWatchStatus,
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running orchestrator",
	RunE:  runWatchStop,
}

func init() {
	defaultPID := filepath.Join(config.StateDir(), "cwardend.pid")
	defaultLog := filepath.Join(config.StateDir(), "cwardend.log")
	defaultSchedule := filepath.Join(config.ConfigDir(), "schedule.yaml")

	watchCmd.PersistentFlags().DurationVar(&flagWatchInterval, "interval", 0, "Calendar poll interval (default from config)")
	watchCmd.PersistentFlags().StringVar(&flagWatchPIDFile, "pid-file", defaultPID, "PID file path")
	watchCmd.PersistentFlags().StringVar(&flagWatchLogFile, "watch-log", defaultLog, "Log file path for detached mode")
	watchCmd.PersistentFlags().StringVar(&flagWatchSchedule, "schedule", defaultSchedule, "Schedule file path")

	watchCmd.Flags().BoolVar(&flagWatchDetach, "detach", false, "Run the orchestrator as a background process")
	watchCmd.Flags().BoolVar(&flagWatchChild, "child", false, "Internal: mark detached child process")
	_ = watchCmd.Flags().MarkHidden("child")

	watchCmd.AddCommand(watchStatusCmd)
	watchCmd.AddCommand(watchStopCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	if flagWatchDetach && flagWatchChild {
		return errors.New("invalid watch launch mode")
	}
	if flagWatchDetach {
		return startWatchDetached()
	}
	return runWatchForeground()
}

func startWatchDetached() error {
	if err := ensureWatchNotRunning(flagWatchPIDFile); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagWatchPIDFile), 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	//nolint:gosec // log path is configured by the local user
	logf, err := os.OpenFile(flagWatchLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open watch log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached orchestrator: %w", err)
	}

	fmt.Printf("  Started orchestrator (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagWatchPIDFile)
	fmt.Printf("  Schedule: %s\n", flagWatchSchedule)
	fmt.Printf("  Log: %s\n", flagWatchLogFile)
	return nil
}

func runWatchForeground() error {
	if err := ensureWatchNotRunning(flagWatchPIDFile); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(flagWatchPIDFile), 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := writePID(flagWatchPIDFile, os.Getpid()); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagWatchPIDFile) }()

	var archiver quota.Archiver
	var sessionArchiver orchestrator.SessionArchiver
	if archive, err := openArchive(); err != nil {
		warnf("archive unavailable: %v", err)
	} else {
		defer func() { _ = archive.Close() }()
		archiver = archive
		sessionArchiver = archive
	}

	schedulePath := flagWatchSchedule
	if cfg.Watch.SchedulePath != "" {
		schedulePath = cfg.Watch.SchedulePath
	}

	interval := flagWatchInterval
	if interval <= 0 {
		interval = cfg.Watch.PollInterval.Duration
	}

	leads := make([]time.Duration, 0, len(cfg.Watch.LeadMinutes))
	for _, m := range cfg.Watch.LeadMinutes {
		leads = append(leads, time.Duration(m)*time.Minute)
	}

	orch := orchestrator.New(orchestrator.Options{
		Calendar:       calendar.NewFileProvider(schedulePath),
		Quota:          newQuotaTracker(cfg, archiver),
		Context:        newContextTracker(cfg),
		Launcher:       launcher.New(cfg.General.ClaudeDir, cfg.General.AgentCommand, filepath.Dir(flagWatchLogFile)),
		Archive:        sessionArchiver,
		Notifier:       newNotifier(cfg),
		Store:          stateStore(),
		LeadTimes:      leads,
		AutoStart:      cfg.Watch.AutoStart,
		StartGrace:     cfg.Watch.StartGrace.Duration,
		TerminateGrace: cfg.Watch.GracePeriod.Duration,
		LogWaitTimeout: cfg.Watch.LogFileTimeout.Duration,
		PollInterval:   interval,
	})

	fmt.Printf("  cwarden orchestrator watching %s\n", schedulePath)
	fmt.Printf("  Polling every %s, auto-start %v\n", interval, cfg.Watch.AutoStart)
	fmt.Printf("  Stop with: cwarden watch stop --pid-file %s\n", flagWatchPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runWatchStatus(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagWatchPIDFile)
	if err != nil {
		fmt.Println("  Orchestrator: not running (pid file not found)")
		return nil
	}
	if !launcher.Alive(pid) {
		fmt.Printf("  Orchestrator: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	fmt.Printf("  Orchestrator PID: %d\n", pid)
	fmt.Printf("  Schedule: %s\n", flagWatchSchedule)

	var handle model.SessionHandle
	if ok, _ := stateStore().Load("session", statefile.CurrentID, &handle); ok {
		liveness := "running"
		if !launcher.Alive(handle.PID) {
			liveness = "exited, pending finalize"
		}
		fmt.Printf("  Active session: %s (pid %d, %s, up %s)\n",
			handle.SessionID, handle.PID, liveness, cli.FormatDuration(time.Since(handle.StartedAt)))
	} else {
		fmt.Println("  Active session: none")
	}
	return nil
}

func runWatchStop(_ *cobra.Command, _ []string) error {
	pid, err := readPID(flagWatchPIDFile)
	if err != nil {
		return errors.New("orchestrator is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find orchestrator process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal orchestrator process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !launcher.Alive(pid) {
			_ = os.Remove(flagWatchPIDFile)
			fmt.Printf("  Stopped orchestrator (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("orchestrator (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func ensureWatchNotRunning(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if launcher.Alive(pid) {
		return fmt.Errorf("orchestrator already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	return nil
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func readPID(path string) (int, error) {
	//nolint:gosec // pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}
