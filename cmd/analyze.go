package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/appstore-crawler/internal/analysis"
	"github.com/JakeFAU/appstore-crawler/internal/model"
)

// newAnalyzeCmd creates the 'analyze' subcommand, which reports low-rated
// reviews joined with their Apps and Categories.
func newAnalyzeCmd() *cobra.Command {
	var (
		threshold int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Reports low-rated reviews per App and Category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if threshold < 1 || threshold > 5 {
				return fmt.Errorf("threshold must be between 1 and 5")
			}
			actx, err := analysis.Load(cmd.Context(), appInstance.Store())
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}
			report := actx.Report(threshold)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", analysis.DefaultThreshold, "ratings below this count as low")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func writeReport(w io.Writer, r analysis.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "apps\t%d\nreviews\t%d\ncategories\t%d\nlow-rated (< %d)\t%d\n\n",
		r.Apps, r.Reviews, r.Categories, r.Threshold, len(r.LowRated))
	if len(r.ByCategory) > 0 {
		fmt.Fprintln(tw, "CATEGORY\tLOW-RATED")
		for _, c := range r.ByCategory {
			fmt.Fprintf(tw, "%s\t%d\n", c.Category, c.Reviews)
		}
		fmt.Fprintln(tw)
	}
	if len(r.LowRated) > 0 {
		fmt.Fprintln(tw, "APP\tRATING\tPOSTED\tAUTHOR\tCATEGORIES")
		for _, f := range r.LowRated {
			posted := ""
			if f.Review.PostedAt != nil {
				posted = f.Review.PostedAt.Format(model.DateLayout)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
				f.AppTitle, *f.Review.Rating, posted, f.Review.Author, strings.Join(f.Categories, ", "))
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
