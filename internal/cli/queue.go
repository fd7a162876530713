package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/entrypoint"
)

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the action queue",
	}
	cmd.AddCommand(
		newQueueListCommand(),
		newQueueRetryCommand(),
		newQueueDismissCommand(),
		newQueueClearCommand(),
	)
	return cmd
}

func newQueueListCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				list, err := app.Queue.List(ctx, entities.ActionStatus(status))
				if err != nil {
					return err
				}
				stats, err := app.Queue.Stats(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "Queue is empty")
				} else {
					w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tTYPE\tRECORD\tSTATUS\tPRIORITY\tRETRIES\tENQUEUED\tLAST ERROR")
					for _, a := range list {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
							a.ID, a.Type, a.AnchorKey, a.Status, a.Priority,
							a.RetryCount, a.MaxRetries,
							a.EnqueuedAt.Local().Format(time.DateTime), truncate(a.LastError, 60))
					}
					if err := w.Flush(); err != nil {
						return err
					}
				}

				fmt.Fprintf(out, "\nPending: %d  Syncing: %d  Failed: %d  Permanently failed: %d\n",
					stats.Pending, stats.Syncing, stats.Failed, stats.PermanentlyFailed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show actions in this status (pending, syncing, failed)")
	return cmd
}

func newQueueRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <action-id>",
		Short: "Give a failed action a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				action, err := app.Queue.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Action %s (%s) is pending again\n", action.ID, action.Type)
				return nil
			})
		},
	}
}

func newQueueDismissCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <action-id>",
		Short: "Drop a failed action without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				if err := app.Queue.Dismiss(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Action %s dismissed\n", args[0])
				return nil
			})
		},
	}
}

func newQueueClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete completed records left behind by an interrupted run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				n, err := app.Queue.ClearCompleted(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed action(s)\n", n)
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
