package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspects and maintains the crawl frontier",
	}
	cmd.AddCommand(newQueueStatusCmd(), newQueueResetCmd(), newQueueAddCmd())
	return cmd
}

func newQueueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints entry counts per frontier status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.GetStore().Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue stats: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT\tFOUND\tSAVED")
			for _, st := range stats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", st.Status, st.Count, st.ItemsFound, st.ItemsSaved)
			}
			return w.Flush()
		},
	}
}

func newQueueResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed",
		Short: "Returns failed entries to pending with a fresh retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.GetStore().ResetFailed(cmd.Context())
			if err != nil {
				return fmt.Errorf("reset failed entries: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed entries\n", n)
			return nil
		},
	}
}

func newQueueAddCmd() *cobra.Command {
	var kind string
	var priority int
	cmd := &cobra.Command{
		Use:   "add URL",
		Short: "Adds a URL to the frontier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			k, ok := crawler.ParseURLKind(kind)
			if !ok {
				return fmt.Errorf("unknown kind %q", kind)
			}
			url, err := crawler.NormalizeURL(args[0])
			if err != nil {
				return err
			}
			created, err := appInstance.GetStore().Enqueue(cmd.Context(), url, k, priority)
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", url, err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s as %s at priority %d\n", url, k, priority)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already queued\n", url)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(crawler.KindListingPage), "listing-page, book-detail, category, author or search")
	cmd.Flags().IntVar(&priority, "priority", 10, "higher runs first")
	return cmd
}
