package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/cwarden/internal/cli"
	"github.com/theirongolddev/cwarden/internal/compact"
	"github.com/theirongolddev/cwarden/internal/model"
)

var (
	flagCompactTier    string
	flagCompactPreview bool
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the session context ledger",
	Long: "Apply tiered compaction to the tracked context record. Without --tier\n" +
		"the tier recommended for the current usage level is applied.",
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().StringVar(&flagCompactTier, "tier", "", "Tier to apply: soft, strategic, or emergency")
	compactCmd.Flags().BoolVar(&flagCompactPreview, "preview", false, "Show what would be reclaimed without persisting")
	rootCmd.AddCommand(compactCmd)
}

func runCompact(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ct := newContextTracker(cfg)
	engine := compact.NewEngine(cfg.Context.CeilingTokens)

	rec := ct.Record()
	est := ct.Estimate()

	tier, err := resolveTier(flagCompactTier, engine, est.TotalTokens)
	if err != nil {
		return err
	}
	if tier == model.TierNone {
		fmt.Printf("  Context at %s, no compaction needed.\n", cli.FormatPercent(est.UsedPercent))
		return nil
	}

	var outcome model.CompactionOutcome
	if flagCompactPreview {
		outcome = engine.Preview(rec, tier)
	} else {
		outcome = engine.Compact(rec, tier)
		if err := ct.Apply(rec); err != nil {
			return fmt.Errorf("persisting compacted record: %w", err)
		}
	}

	printOutcome(outcome, flagCompactPreview)
	return nil
}

func resolveTier(name string, engine *compact.Engine, currentTokens int64) (model.CompactionTier, error) {
	switch name {
	case "":
		return engine.Recommend(currentTokens), nil
	case "soft":
		return model.TierSoft, nil
	case "strategic":
		return model.TierStrategic, nil
	case "emergency":
		return model.TierEmergency, nil
	default:
		return model.TierNone, fmt.Errorf("unknown tier %q (want soft, strategic, or emergency)", name)
	}
}

func printOutcome(out model.CompactionOutcome, preview bool) {
	verb := "Compacted"
	if preview {
		verb = "Would compact"
	}
	fmt.Println()
	fmt.Printf("  %s at the %s tier: %s -> %s (saved %s)\n",
		verb, out.Tier,
		cli.FormatTokens(out.TokensBefore), cli.FormatTokens(out.TokensAfter),
		cli.FormatTokens(out.TokensSaved))
	fmt.Printf("  %s\n", cli.Muted(fmt.Sprintf("%d entries removed, %d preserved", out.Removed, out.Preserved)))

	if len(out.Actions) > 0 {
		rows := make([][]string, 0, len(out.Actions))
		for _, a := range out.Actions {
			rows = append(rows, []string{a.Category, a.Description, cli.FormatTokens(a.TokensReclaimed)})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Headers: []string{"Category", "Action", "Reclaimed"},
			Rows:    rows,
		}))
	}
	fmt.Println()
}
