package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-scoring/internal/model"
)

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Inspect persisted lead scores",
	Long:  "Commands for listing and viewing scored lead records.",
}

// -- scores list --

var scoresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently scored leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")

		records, err := st.ListRecent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "scores list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No scored leads found.")
			return nil
		}

		formatScoresList(os.Stdout, records)
		return nil
	},
}

// -- scores show --

var scoresShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show the full scored record for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		record, err := st.GetScore(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "scores show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

func init() {
	scoresListCmd.Flags().Int("limit", 50, "max number of records to display")

	scoresCmd.AddCommand(scoresListCmd)
	scoresCmd.AddCommand(scoresShowCmd)
	rootCmd.AddCommand(scoresCmd)
}

// formatScoresList writes a tabular list of scored records to w.
func formatScoresList(out io.Writer, records []model.ScoredRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEAD\tTYPE\tSCORE\tTIER\tMODULES\tSCORED")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t----\t-------\t------")

	for _, r := range records {
		score := "-"
		if r.CompositeScore != nil {
			score = fmt.Sprintf("%.1f", *r.CompositeScore)
		}

		ok := 0
		for _, res := range r.ModuleResults {
			if !res.Failed() {
				ok++
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.LeadID,
			r.LeadType,
			score,
			r.Tier,
			ok,
			len(r.ModuleResults),
			r.ScoredAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
