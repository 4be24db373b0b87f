package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/cli"
	"github.com/theirongolddev/cwarden/internal/launcher"
	"github.com/theirongolddev/cwarden/internal/model"
	"github.com/theirongolddev/cwarden/internal/quota"
	"github.com/theirongolddev/cwarden/internal/statefile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quota window, context usage, and the active session",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var archiver quota.Archiver
	if archive, err := openArchive(); err != nil {
		warnf("archive unavailable: %v", err)
	} else {
		defer func() { _ = archive.Close() }()
		archiver = archive
	}

	qt := newQuotaTracker(cfg, archiver)
	ct := newContextTracker(cfg)

	qs, err := qt.Status()
	if err != nil {
		return fmt.Errorf("quota status: %w", err)
	}
	est := ct.Estimate()
	now := time.Now()

	fmt.Println()
	fmt.Println(cli.RenderTitle("CWARDEN STATUS"))
	fmt.Println()

	fmt.Printf("  %s  %s\n", cli.Header("Quota window"), cli.Muted(fmt.Sprintf("plan %s", qs.Plan)))
	fmt.Printf("  %s\n", cli.RenderUsageBar(qs.UsedPercent, 40))
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Used", "Remaining", "Capacity", "Sessions", "Resets"},
		Rows: [][]string{{
			cli.FormatTokens(qs.TokensUsed),
			cli.FormatTokens(qs.Remaining),
			cli.FormatTokens(qs.CapacityTokens),
			fmt.Sprintf("%d", qs.Sessions),
			cli.FormatReset(qs.ResetAt, now),
		}},
	}))
	fmt.Printf("  %s\n", cli.Muted(qs.Recommendation))
	if qs.Deferred > 0 {
		fmt.Printf("  %s\n", cli.SeverityLabel(fmt.Sprintf("%d session(s) deferred past reset", qs.Deferred), 90))
	}
	fmt.Println()

	fmt.Printf("  %s  %s\n", cli.Header("Context usage"),
		cli.SeverityLabel(string(est.State), est.UsedPercent))
	fmt.Printf("  %s\n", cli.RenderUsageBar(est.UsedPercent, 40))
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Ledger", "Overhead", "Total", "Ceiling"},
		Rows: [][]string{{
			cli.FormatTokens(est.LedgerTokens),
			cli.FormatTokens(est.OverheadTokens),
			cli.FormatTokens(est.TotalTokens),
			cli.FormatTokens(est.CeilingTokens),
		}},
	}))
	fmt.Println()

	printActiveSession()
	return nil
}

// printActiveSession reports the orchestrator's persisted session handle,
// cross-checked against process liveness.
func printActiveSession() {
	var handle model.SessionHandle
	ok, _ := stateStore().Load("session", statefile.CurrentID, &handle)
	if !ok {
		fmt.Printf("  %s %s\n\n", cli.Header("Session"), cli.Muted("none active"))
		return
	}

	if launcher.Alive(handle.PID) {
		fmt.Printf("  %s %s\n", cli.Header("Session"), handle.SessionID)
		fmt.Printf("    pid %d, running %s, event %s\n\n",
			handle.PID, cli.FormatDuration(time.Since(handle.StartedAt)), handle.EventID)
		return
	}
	fmt.Printf("  %s %s %s\n\n", cli.Header("Session"), handle.SessionID,
		cli.Muted("(process gone, pending finalize)"))
}
