package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mrlokans/shelfsync/internal/entrypoint"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the offline book cache",
	}
	cmd.AddCommand(newCacheListCommand(), newCacheCleanupCommand())
	return cmd
}

func newCacheListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				entries, err := app.Cache.ListMetadata(ctx, !all)
				if err != nil {
					return err
				}
				stats, err := app.Cache.Stats(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BOOK\tTITLE\tAUTHOR\tTYPE\tCACHED\tSIZE")
				for _, e := range entries {
					cached := "no"
					if e.IsCached {
						cached = "yes"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.BookID, e.Title, e.Author, e.FileType, cached, formatBytes(e.SizeBytes))
				}
				if err := w.Flush(); err != nil {
					return err
				}

				fmt.Fprintf(out, "\n%d of %d book(s) cached, %s on disk\n",
					stats.Books, stats.MaxBooks, formatBytes(stats.TotalBytes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include books whose content is no longer cached")
	return cmd
}

func newCacheCleanupCommand() *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove books cached longer than the expiry age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				removed, err := app.Cache.CleanupExpired(ctx, maxAgeDays)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, id := range removed {
					fmt.Fprintf(out, "removed %s\n", id)
				}
				fmt.Fprintf(out, "Removed %d expired book(s)\n", len(removed))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Age in days after which books expire (default: CACHE_EXPIRY_DAYS)")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
