package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/cli"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the context-usage estimate for the tracked session",
	RunE:  runContext,
}

var contextStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Reset the context ledger for a new session",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextStart,
}

var contextTrackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record context consumption by category",
}

var contextTrackFileCmd = &cobra.Command{
	Use:   "file <path> <tokens>",
	Short: "Record a file read",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens, err := parseTokens(args[1])
		if err != nil {
			return err
		}
		return newContextTracker(cfg).TrackFileRead(args[0], tokens)
	},
}

var contextTrackToolCmd = &cobra.Command{
	Use:   "tool <name> <tokens>",
	Short: "Record a tool result",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens, err := parseTokens(args[1])
		if err != nil {
			return err
		}
		return newContextTracker(cfg).TrackToolResult(args[0], tokens)
	},
}

var contextTrackConversationCmd = &cobra.Command{
	Use:   "conversation <tokens>",
	Short: "Record conversation growth",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens, err := parseTokens(args[0])
		if err != nil {
			return err
		}
		return newContextTracker(cfg).TrackConversation(tokens)
	},
}

var contextTrackGeneratedCmd = &cobra.Command{
	Use:   "generated <tokens>",
	Short: "Record generated-code output",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens, err := parseTokens(args[0])
		if err != nil {
			return err
		}
		return newContextTracker(cfg).TrackGeneratedCode(tokens)
	},
}

func init() {
	contextTrackCmd.AddCommand(contextTrackFileCmd)
	contextTrackCmd.AddCommand(contextTrackToolCmd)
	contextTrackCmd.AddCommand(contextTrackConversationCmd)
	contextTrackCmd.AddCommand(contextTrackGeneratedCmd)
	contextCmd.AddCommand(contextStartCmd)
	contextCmd.AddCommand(contextTrackCmd)
	rootCmd.AddCommand(contextCmd)
}

func runContext(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ct := newContextTracker(cfg)
	est := ct.Estimate()
	rec := ct.Record()

	fmt.Println()
	if est.SessionID != "" {
		fmt.Printf("  %s %s\n", cli.Header("Session"), est.SessionID)
	}
	fmt.Printf("  %s %s\n", cli.RenderUsageBar(est.UsedPercent, 40),
		cli.SeverityLabel(string(est.State), est.UsedPercent))
	fmt.Println()

	var fileTokens int64
	for _, fr := range rec.FileReads {
		fileTokens += fr.Tokens
	}
	var toolTokens int64
	var toolCount int
	for _, results := range rec.ToolResults {
		toolCount += len(results)
		for _, tr := range results {
			toolTokens += tr.Tokens
		}
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Ledger breakdown",
		Headers: []string{"Category", "Entries", "Tokens"},
		Rows: [][]string{
			{"File reads", fmt.Sprintf("%d", len(rec.FileReads)), cli.FormatTokens(fileTokens)},
			{"Tool results", fmt.Sprintf("%d", toolCount), cli.FormatTokens(toolTokens)},
			{"Conversation", "", cli.FormatTokens(rec.ConversationTokens)},
			{"Generated code", "", cli.FormatTokens(rec.GeneratedTokens)},
			{"---"},
			{"Overhead", "", cli.FormatTokens(est.OverheadTokens)},
			{"Total", "", cli.FormatTokens(est.TotalTokens)},
		},
	}))
	fmt.Println()
	return nil
}

func runContextStart(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := newContextTracker(cfg).StartSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("  Context ledger reset for session %s\n", args[0])
	return nil
}

func parseTokens(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid token count %q", s)
	}
	return n, nil
}
