package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newReconcileCmd creates the 'reconcile' subcommand, which deduplicates the
// tables outside of a crawl.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Deduplicates every table by natural key",
		Long: `Keeps the most recently appended row per natural key in every table and,
when store.prune_orphans is set, removes child rows whose App no longer
exists. Running it twice is a no-op the second time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Store().Reconcile(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			appInstance.Logger().Info("reconcile finished",
				zap.Int64("removed", res.Total()),
				zap.Strings("skipped", res.Skipped),
			)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
