// Package cli implements the shelfsync command line.
//
// Running the binary without a subcommand starts the HTTP server. The
// other commands open the same durable store for one-off maintenance and
// exit; they never start the task workers or the scheduler.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrlokans/shelfsync/internal/config"
	"github.com/mrlokans/shelfsync/internal/entrypoint"
)

// NewRootCommand builds the command tree.
func NewRootCommand(version, commit string) *cobra.Command {
	root := &cobra.Command{
		Use:           "shelfsync",
		Short:         "Offline-first sync engine for reading data",
		Long:          "shelfsync keeps reading progress, notes, highlights and bookmarks in a local store\nand replays them to the remote reading service whenever it is reachable.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return entrypoint.Run(config.NewConfig(), version)
		},
	}

	root.AddCommand(
		newServeCommand(version),
		newSyncCommand(),
		newQueueCommand(),
		newCacheCommand(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute(version, commit string) error {
	return NewRootCommand(version, commit).Execute()
}

func newServeCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default if no command given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return entrypoint.Run(config.NewConfig(), version)
		},
	}
}

// withApp builds the application without its background workers, runs fn
// and releases the store.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *entrypoint.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.NewConfig()
	cfg.Tasks.Enabled = false

	app, err := entrypoint.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}
