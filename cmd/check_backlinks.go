package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

type checkBacklinksOptions struct {
	frequency string
	status    string
	projectID int64
	limit     int
}

func (o checkBacklinksOptions) selection() (backlink.Selection, error) {
	freq, err := backlink.ParseFrequency(o.frequency)
	if err != nil {
		return backlink.Selection{}, err
	}
	status, err := backlink.ParseStatusFilter(o.status)
	if err != nil {
		return backlink.Selection{}, err
	}
	if o.limit < 0 {
		return backlink.Selection{}, fmt.Errorf("invalid limit %d: must be >= 0", o.limit)
	}
	sel := backlink.Selection{Frequency: freq, Status: status, Limit: o.limit}
	if o.projectID > 0 {
		id := o.projectID
		sel.ProjectID = &id
	}
	return sel, nil
}

// newCheckBacklinksCmd creates the 'check-backlinks' subcommand, the batch entry point run from cron or CI.
func newCheckBacklinksCmd(rt *runtime) *cobra.Command {
	var opts checkBacklinksOptions
	cmd := &cobra.Command{
		Use:   "check-backlinks",
		Short: "Verify every due backlink and deliver resulting alerts",
		Long: `Selects backlinks by recency and status, verifies each one on the worker pool,
and waits until every verification and webhook delivery has finished.
daily picks backlinks never checked or last checked over 24h ago; weekly over 7 days; all ignores recency.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := opts.selection()
			if err != nil {
				return err
			}
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			queued, err := a.RunBatch(cmd.Context(), sel)
			if err != nil {
				return fmt.Errorf("check backlinks: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "verified %d backlinks\n", queued)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.frequency, "frequency", "daily", "recency filter: daily, weekly or all")
	cmd.Flags().StringVar(&opts.status, "status", "all", "status filter: active, lost, changed or all")
	cmd.Flags().Int64Var(&opts.projectID, "project", 0, "only check backlinks of this project")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum backlinks to check; 0 means no limit")
	return cmd
}
