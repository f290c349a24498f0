package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand, which writes one CSV object
// per table to the configured export backend.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Exports every table as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			exp, err := appInstance.Exporter(cmd.Context())
			if err != nil {
				return err
			}
			res, err := exp.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
