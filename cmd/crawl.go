package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

type crawlOptions struct {
	mode        string
	target      int
	limit       int
	concurrency int
}

func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl in the configured mode",
		Long: `Runs discovery, targeted-update or bounded-test against grqaser.org.
Discovery walks the frontier until the target number of books is saved or the
frontier is empty. The update modes refetch stored books that need repair.
An interrupt stops the run between items and prints the partial summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "run mode: discovery, targeted-update or bounded-test")
	cmd.Flags().IntVar(&opts.target, "target", 0, "books to save before discovery stops")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "books to refetch in the update modes")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "update workers")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	run := cfg.Run
	if opts.mode != "" {
		run.Mode = opts.mode
	}
	if cmd.Flags().Changed("target") {
		run.TargetCount = opts.target
	}
	if cmd.Flags().Changed("limit") {
		run.UpdateLimit = opts.limit
		run.TestLimit = opts.limit
	}
	if cmd.Flags().Changed("concurrency") {
		run.Concurrency = opts.concurrency
	}
	mode, err := run.BuildMode(cfg.Fetcher.BaseURL)
	if err != nil {
		return err
	}

	stats, err := appInstance.Run(cmd.Context(), mode)
	printSummary(cmd.OutOrStdout(), stats)
	if err != nil {
		return fmt.Errorf("run %s: %w", mode.Name(), err)
	}
	appInstance.GetLogger().Info("crawl command finished", zap.Int("books_saved", stats.BooksSaved))
	return nil
}

func printSummary(out io.Writer, stats crawler.RunStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "mode\t%s\n", stats.Mode)
	fmt.Fprintf(w, "pages visited\t%d\n", stats.PagesVisited)
	fmt.Fprintf(w, "items processed\t%d\n", stats.ItemsProcessed)
	fmt.Fprintf(w, "books found\t%d\n", stats.BooksFound)
	fmt.Fprintf(w, "books saved\t%d\n", stats.BooksSaved)
	fmt.Fprintf(w, "duplicates skipped\t%d\n", stats.DuplicatesSkipped)
	fmt.Fprintf(w, "rejected\t%d\n", stats.TotalRejected())
	reasons := make([]string, 0, len(stats.Rejected))
	for reason := range stats.Rejected {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %s\t%d\n", reason, stats.Rejected[reason])
	}
	fmt.Fprintf(w, "retried\t%d\n", stats.Retried)
	fmt.Fprintf(w, "not found\t%d\n", stats.NotFound)
	fmt.Fprintf(w, "permanently failed\t%d\n", stats.PermanentlyFailed)
	fmt.Fprintf(w, "persistence errors\t%d\n", stats.PersistenceErrors)
	if !stats.Finished.IsZero() {
		fmt.Fprintf(w, "elapsed\t%s\n", stats.Finished.Sub(stats.Started).Round(time.Millisecond))
	}
	_ = w.Flush()
}
