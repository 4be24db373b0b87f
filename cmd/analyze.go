package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/cli"
	"github.com/theirongolddev/cwarden/internal/monitor"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <log-file>",
	Short: "Replay a session log and report its usage",
	Long: "Replay a Claude Code JSONL session log through the live classifier.\n" +
		"Duplicate completions and repeated objective markers are deduplicated\n" +
		"exactly as they would be during live monitoring.",
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(_ *cobra.Command, args []string) error {
	report, err := monitor.AnalyzeSessionLog(args[0])
	if err != nil {
		return err
	}
	m := report.Metrics

	fmt.Println()
	fmt.Println(cli.RenderTitle("SESSION ANALYSIS"))
	fmt.Println()
	if m.SessionID != "" {
		fmt.Printf("  %s %s\n", cli.Header("Session"), m.SessionID)
	}
	if m.Model != "" {
		fmt.Printf("  %s %s\n", cli.Header("Model"), m.Model)
	}
	if report.Duration > 0 {
		fmt.Printf("  %s %s\n", cli.Header("Duration"), cli.FormatDuration(report.Duration))
	}
	fmt.Println()

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Input", "Output", "Cache read", "Tool calls", "Cost"},
		Rows: [][]string{{
			cli.FormatTokens(m.InputTokens),
			cli.FormatTokens(m.OutputTokens),
			cli.FormatTokens(m.CacheReadTokens),
			fmt.Sprintf("%d", m.ToolCalls),
			cli.FormatCost(m.EstimatedCost),
		}},
	}))
	fmt.Println()

	if len(m.Objectives) > 0 {
		fmt.Printf("  %s\n", cli.Header("Objectives completed"))
		for _, obj := range m.Objectives {
			fmt.Printf("    - %s\n", obj)
		}
		fmt.Println()
	}

	details := fmt.Sprintf("%s lines processed", cli.FormatNumber(int64(m.Lines)))
	if m.ParseErrors > 0 {
		details += fmt.Sprintf(", %d malformed", m.ParseErrors)
	}
	fmt.Printf("  %s\n\n", cli.Muted(details))
	return nil
}
