package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/cli"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived quota windows and session summaries",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 10, "Maximum rows per table")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, _ []string) error {
	archive, err := openArchive()
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = archive.Close() }()

	windows, err := archive.RecentWindows(flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("reading archived windows: %w", err)
	}
	sessions, err := archive.RecentSessions(flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("reading archived sessions: %w", err)
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("HISTORY"))
	fmt.Println()

	if len(windows) == 0 {
		fmt.Printf("  %s\n\n", cli.Muted("No archived quota windows yet."))
	} else {
		rows := make([][]string, 0, len(windows))
		for _, w := range windows {
			pct := 0.0
			if w.CapacityTokens > 0 {
				pct = float64(w.TokensUsed) / float64(w.CapacityTokens) * 100
			}
			rows = append(rows, []string{
				w.WindowStart.Local().Format("Jan 02 15:04"),
				w.ResetAt.Local().Format("15:04"),
				w.Plan,
				cli.FormatTokens(w.TokensUsed),
				cli.FormatPercent(pct),
				fmt.Sprintf("%d", w.Sessions),
			})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Quota windows",
			Headers: []string{"Start", "Reset", "Plan", "Used", "Of cap", "Sessions"},
			Rows:    rows,
		}))
		fmt.Println()
	}

	if len(sessions) == 0 {
		fmt.Printf("  %s\n\n", cli.Muted("No archived sessions yet."))
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		dur := ""
		if !s.StartedAt.IsZero() && !s.EndedAt.IsZero() {
			dur = cli.FormatDuration(s.EndedAt.Sub(s.StartedAt).Round(time.Second))
		}
		rows = append(rows, []string{
			shortID(s.SessionID),
			s.StartedAt.Local().Format("Jan 02 15:04"),
			dur,
			cli.FormatTokens(s.InputTokens),
			cli.FormatTokens(s.OutputTokens),
			fmt.Sprintf("%d", s.ObjectivesCompleted),
			cli.FormatCost(s.EstimatedCost),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Sessions",
		Headers: []string{"Session", "Started", "Duration", "Input", "Output", "Objectives", "Cost"},
		Rows:    rows,
	}))
	fmt.Println()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
