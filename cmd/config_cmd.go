package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/cli"
	"github.com/theirongolddev/cwarden/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source := cli.Muted("(defaults, no config file)")
	if config.Exists() {
		source = cli.Muted(config.ConfigPath())
	}

	leads := make([]string, 0, len(cfg.Watch.LeadMinutes))
	for _, m := range cfg.Watch.LeadMinutes {
		leads = append(leads, fmt.Sprintf("%dm", m))
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("CONFIGURATION"))
	fmt.Printf("  %s\n\n", source)

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "General",
		Headers: []string{"Setting", "Value"},
		Rows: [][]string{
			{"Claude directory", cfg.General.ClaudeDir},
			{"Agent command", cfg.General.AgentCommand},
			{"State directory", flagStateDir},
			{"Archive", config.ArchivePath()},
		},
	}))

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Quota",
		Headers: []string{"Setting", "Value"},
		Rows: [][]string{
			{"Plan", cfg.Quota.Plan},
			{"Window capacity", cli.FormatTokens(cfg.WindowCapacity())},
			{"Window length", cfg.WindowDuration().String()},
		},
	}))

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Context",
		Headers: []string{"Setting", "Value"},
		Rows: [][]string{
			{"Ceiling", cli.FormatTokens(cfg.Context.CeilingTokens)},
			{"Overhead", cli.FormatTokens(cfg.Context.OverheadTokens)},
		},
	}))

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Watch",
		Headers: []string{"Setting", "Value"},
		Rows: [][]string{
			{"Poll interval", cfg.Watch.PollInterval.Duration.String()},
			{"Lead warnings", strings.Join(leads, ", ")},
			{"Auto-start", fmt.Sprintf("%v", cfg.Watch.AutoStart)},
			{"Start grace", cfg.Watch.StartGrace.Duration.String()},
			{"Grace period", cfg.Watch.GracePeriod.Duration.String()},
			{"Log-file timeout", cfg.Watch.LogFileTimeout.Duration.String()},
		},
	}))

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Notifications",
		Headers: []string{"Setting", "Value"},
		Rows: [][]string{
			{"Enabled", fmt.Sprintf("%v", cfg.Notify.Enabled)},
		},
	}))

	if !config.Exists() {
		detected := config.DetectPlan(cfg.General.ClaudeDir)
		fmt.Printf("\n  %s\n", cli.Muted(fmt.Sprintf("Detected plan %q from %s", detected, cfg.General.ClaudeDir)))
	}
	fmt.Println()
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if config.Exists() {
		return fmt.Errorf("config file already exists at %s", config.ConfigPath())
	}
	cfg := config.DefaultConfig()
	cfg.Quota.Plan = config.DetectPlan(cfg.General.ClaudeDir)
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("  Wrote %s (plan %s)\n", config.ConfigPath(), cfg.Quota.Plan)
	return nil
}
