package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const defaultAlertRetention = 90 * 24 * time.Hour

// newPruneAlertsCmd creates the 'prune-alerts' retention subcommand.
func newPruneAlertsCmd(rt *runtime) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune-alerts",
		Short: "Delete read alerts older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("invalid --older-than %s: must be positive", olderThan)
			}
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.PruneAlerts(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d read alerts\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", defaultAlertRetention, "delete read alerts created before now minus this duration")
	return cmd
}
