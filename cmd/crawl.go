package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one full crawl and
// prints the run summary.
func newCrawlCmd() *cobra.Command {
	var opts app.CrawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl of the app store",
		Long: `Discovers listings from the configured sitemaps (or the --listing URLs),
fetches every listing and its review pages, and appends the extracted records
in batches. SIGINT or SIGTERM stops the crawl; buffered records are still
flushed and the tables reconciled before exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Listings, "listing", nil, "crawl these listing URLs instead of walking the sitemaps")
	cmd.Flags().IntVar(&opts.MaxApps, "max-apps", 0, "stop after this many listings (overrides crawler.max_apps)")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts app.CrawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopServer := appInstance.StartServer(stop)
	defer func() {
		if err := stopServer(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("admin server shutdown failed", zap.Error(err))
		}
	}()

	p, err := appInstance.NewPipeline(opts)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	summary, runErr := p.Run(ctx)
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if runErr != nil {
		// Shutdown is idempotent and reports only the final flush outcome.
		if _, shutdownErr := p.Shutdown(ctx); summary.Interrupted && shutdownErr == nil {
			logger.Warn("crawl interrupted; partial results were saved", zap.Error(runErr))
			return nil
		}
		return fmt.Errorf("run crawl: %w", runErr)
	}
	logger.Info("crawl command finished")
	return nil
}
