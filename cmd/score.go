package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scoring/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single lead on demand",
	Long: `Runs the full scoring pipeline for one lead and prints the result.

Manual runs bypass webhook deduplication, so this always re-scores and
replaces any previously persisted record.

Examples:
  # Score a lead
  lead-scoring score --lead 12345

  # Score and dump the full record as JSON
  lead-scoring score --lead 12345 --json`,
	RunE: runScore,
}

var (
	scoreLeadID string
	scoreJSON   bool
)

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreLeadID, "lead", "", "HubSpot lead object ID (required)")
	f.BoolVar(&scoreJSON, "json", false, "print the full scored record as JSON")
	scoreCmd.MarkFlagRequired("lead") //nolint:errcheck

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx, "score")
	if err != nil {
		return err
	}
	defer env.Close()

	log := zap.L().With(zap.String("command", "score"))
	log.Info("scoring lead", zap.String("lead_id", scoreLeadID))

	record, err := env.Pipeline.Run(ctx, scoreLeadID, model.SourceManual)
	if err != nil {
		return eris.Wrapf(err, "score lead %s", scoreLeadID)
	}

	if scoreJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	printRecord(record)
	return nil
}

func printRecord(record *model.ScoredRecord) {
	fmt.Printf("Lead %s (%s)\n", record.LeadID, record.LeadType)
	if record.CompositeScore != nil {
		fmt.Printf("  Composite: %.1f  Tier: %s\n", *record.CompositeScore, record.Tier)
	} else {
		fmt.Println("  Composite: unavailable (all modules failed)")
	}
	for name, res := range record.ModuleResults {
		if res.Failed() {
			fmt.Printf("  %-20s failed: %s\n", name, res.Error)
			continue
		}
		fmt.Printf("  %-20s %5.1f  %s\n", name, *res.Score, res.Rationale)
	}
}
