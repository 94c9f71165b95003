package main

import (
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-scoring/internal/model"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Sweep and score unscored leads",
	Long: `Searches HubSpot for leads that have no score property and runs the
scoring pipeline for each, with bounded concurrency.

Intended for backfilling after deployment and for catching leads whose
webhook delivery was missed.

Examples:
  # Sweep one batch with defaults
  lead-scoring backlog

  # Larger batch, more workers
  lead-scoring backlog --batch-size 250 --concurrency 8`,
	RunE: runBacklog,
}

var (
	backlogBatchSize   int
	backlogConcurrency int
)

func init() {
	f := backlogCmd.Flags()
	f.IntVar(&backlogBatchSize, "batch-size", 0, "max leads to fetch per sweep (default from config)")
	f.IntVar(&backlogConcurrency, "concurrency", 0, "concurrent scoring workers (default from config)")

	rootCmd.AddCommand(backlogCmd)
}

func runBacklog(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx, "backlog")
	if err != nil {
		return err
	}
	defer env.Close()

	batchSize := cfg.Backlog.BatchSize
	if backlogBatchSize > 0 {
		batchSize = backlogBatchSize
	}
	concurrency := cfg.Backlog.Concurrency
	if backlogConcurrency > 0 {
		concurrency = backlogConcurrency
	}

	log := zap.L().With(zap.String("command", "backlog"))

	leadIDs, total, err := env.CRM.SearchUnscoredLeads(ctx, batchSize)
	if err != nil {
		return eris.Wrap(err, "search unscored leads")
	}
	log.Info("found unscored leads",
		zap.Int("batch", len(leadIDs)),
		zap.Int("total_remaining", total))

	if len(leadIDs) == 0 {
		fmt.Println("No unscored leads found.")
		return nil
	}

	var scored, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, leadID := range leadIDs {
		g.Go(func() error {
			record, err := env.Pipeline.Run(gctx, leadID, model.SourceManual)
			if err != nil {
				failed.Add(1)
				log.Warn("backlog scoring failed",
					zap.String("lead_id", leadID),
					zap.Error(err))
				return nil // one bad lead must not stop the sweep
			}
			scored.Add(1)
			if record.CompositeScore != nil {
				log.Info("lead scored",
					zap.String("lead_id", leadID),
					zap.Float64("composite", *record.CompositeScore),
					zap.String("tier", record.Tier))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "backlog sweep")
	}

	fmt.Printf("Sweep complete: %d scored, %d failed, %d still unscored.\n",
		scored.Load(), failed.Load(), total-int(scored.Load()))
	return nil
}
