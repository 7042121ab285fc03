package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// newCheckURLCmd creates the 'check-url' subcommand, which checks one page without touching the store.
func newCheckURLCmd(rt *runtime) *cobra.Command {
	var source, target string
	cmd := &cobra.Command{
		Use:   "check-url",
		Short: "Check whether a page links to a target URL and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.CheckURL(cmd.Context(), source, target)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "page expected to contain the link")
	cmd.Flags().StringVar(&target, "target", "", "URL the link should point at")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
