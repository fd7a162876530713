package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrlokans/shelfsync/internal/entrypoint"
	"github.com/mrlokans/shelfsync/internal/syncer"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Probe the remote service and replay queued actions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				out := cmd.OutOrStdout()

				if _, err := app.Sync.Reconcile(ctx); err != nil {
					return err
				}
				if !app.Monitor.TestConnectivity(ctx) {
					st := app.Monitor.State()
					return fmt.Errorf("remote %s unreachable: %s", app.Config.Remote.BaseURL, st.LastError)
				}

				res, err := app.Sync.RunOnce(ctx, syncer.ReasonManual)
				printResult(cmd, res)
				if err != nil {
					return err
				}
				if res.Failed > 0 {
					fmt.Fprintf(out, "\n%d action(s) failed; see 'shelfsync queue list --status failed'\n", res.Failed)
				}
				return nil
			})
		},
	}
}

func printResult(cmd *cobra.Command, res syncer.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Sync Summary")
	fmt.Fprintln(out, "============")
	fmt.Fprintf(out, "Attempted:          %d\n", res.Attempted)
	fmt.Fprintf(out, "Completed:          %d\n", res.Completed)
	fmt.Fprintf(out, "Failed:             %d\n", res.Failed)
	if res.PermanentlyFailed > 0 {
		fmt.Fprintf(out, "Permanently failed: %d\n", res.PermanentlyFailed)
	}
	if res.Conflicts > 0 {
		fmt.Fprintf(out, "Superseded:         %d\n", res.Conflicts)
	}
	fmt.Fprintf(out, "Deferred:           %d\n", res.Deferred)
	fmt.Fprintf(out, "Remaining:          %d\n", res.Remaining)
	if !res.Finished.IsZero() {
		fmt.Fprintf(out, "Duration:           %s\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
	}
}
