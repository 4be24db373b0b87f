package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/config"
	"github.com/theirongolddev/cwarden/internal/contextusage"
	"github.com/theirongolddev/cwarden/internal/logging"
	"github.com/theirongolddev/cwarden/internal/notify"
	"github.com/theirongolddev/cwarden/internal/quota"
	"github.com/theirongolddev/cwarden/internal/statefile"
	"github.com/theirongolddev/cwarden/internal/store"
)

var (
	flagStateDir string
	flagQuiet    bool
	flagDebug    bool
	flagLogFile  string
)

var rootCmd = &cobra.Command{
	Use:   "cwarden",
	Short: "Session resource and lifecycle manager for Claude Code",
	Long: "Track the rolling token-budget window, estimate context usage,\n" +
		"compact session context, and orchestrate calendar-scheduled agent sessions.",
	RunE: runStatus,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if err := logging.Initialize(flagDebug, flagLogFile); err != nil {
			fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		}
	},
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", config.StateDir(), "State directory for tracking records")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Write logs to file instead of stderr")
}

// stateStore returns the statefile store all commands share.
func stateStore() *statefile.Store {
	return statefile.NewStore(flagStateDir)
}

// loadConfig reads the config file, resolving the plan from the Claude
// directory when the config leaves it at the default.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if !config.Exists() {
		cfg.Quota.Plan = config.DetectPlan(cfg.General.ClaudeDir)
	}
	return cfg, nil
}

func newNotifier(cfg config.Config) notify.Notifier {
	if cfg.Notify.Enabled {
		return notify.Desktop{}
	}
	return notify.Discard{}
}

// openArchive opens the history database. Commands that can run without it
// pass the error through as a warning instead.
func openArchive() (*store.Archive, error) {
	return store.Open(config.ArchivePath())
}

func newQuotaTracker(cfg config.Config, archiver quota.Archiver) *quota.Tracker {
	return quota.NewTracker(quota.Options{
		Plan:           cfg.Quota.Plan,
		CapacityTokens: cfg.WindowCapacity(),
		WindowDuration: cfg.WindowDuration(),
		Store:          stateStore(),
		Notifier:       newNotifier(cfg),
		Archiver:       archiver,
	})
}

func newContextTracker(cfg config.Config) *contextusage.Tracker {
	return contextusage.NewTracker(contextusage.Options{
		CeilingTokens:  cfg.Context.CeilingTokens,
		OverheadTokens: cfg.Context.OverheadTokens,
		Store:          stateStore(),
		Notifier:       newNotifier(cfg),
	})
}

func warnf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  "+format+"\n", args...)
	}
}
