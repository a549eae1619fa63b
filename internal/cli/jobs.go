package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/explorer/internal/control"
)

var (
	workspaceID   int64
	explorerSlug  string
	resetProcess  bool
	transactionID int64
	blockID       int64
)

var checkIntegrityCmd = &cobra.Command{
	Use:   "check-integrity",
	Short: "Run the integrity check of one workspace now",
	Run: func(cmd *cobra.Command, args []string) {
		runOnce(func(ctx context.Context, app *control.App) (string, error) {
			return app.Checker.Run(ctx, workspaceID)
		})
	},
}

var syncProcessCmd = &cobra.Command{
	Use:   "sync-process",
	Short: "Reconcile the sync process of one explorer now",
	Run: func(cmd *cobra.Command, args []string) {
		runOnce(func(ctx context.Context, app *control.App) (string, error) {
			if app.Sync == nil {
				return "", fmt.Errorf("no process controller configured")
			}
			return app.Sync.Update(ctx, explorerSlug, resetProcess)
		})
	},
}

var backfillTransfersCmd = &cobra.Command{
	Use:   "backfill-transfers",
	Short: "Rebuild native transfers of one transaction",
	Run: func(cmd *cobra.Command, args []string) {
		runOnce(func(ctx context.Context, app *control.App) (string, error) {
			created, err := app.Transfers.Run(ctx, transactionID)
			if err != nil {
				return "", err
			}
			if !created {
				return "No new transfers.", nil
			}
			return "Native transfers created.", nil
		})
	},
}

var revertBlockCmd = &cobra.Command{
	Use:   "revert-block",
	Short: "Revert or complete one partially synced block",
	Run: func(cmd *cobra.Command, args []string) {
		runOnce(func(ctx context.Context, app *control.App) (string, error) {
			res, err := app.Reverter.Revert(ctx, blockID)
			if err != nil {
				return "", err
			}
			return res.String(), nil
		})
	},
}

func init() {
	checkIntegrityCmd.Flags().Int64Var(&workspaceID, "workspace", 0, "workspace id")
	_ = checkIntegrityCmd.MarkFlagRequired("workspace")

	syncProcessCmd.Flags().StringVar(&explorerSlug, "slug", "", "explorer slug")
	syncProcessCmd.Flags().BoolVar(&resetProcess, "reset", false, "reset the process")
	_ = syncProcessCmd.MarkFlagRequired("slug")

	backfillTransfersCmd.Flags().Int64Var(&transactionID, "transaction", 0, "transaction id")
	_ = backfillTransfersCmd.MarkFlagRequired("transaction")

	revertBlockCmd.Flags().Int64Var(&blockID, "block", 0, "block id")
	_ = revertBlockCmd.MarkFlagRequired("block")

	rootCmd.AddCommand(checkIntegrityCmd, syncProcessCmd, backfillTransfersCmd, revertBlockCmd)
}

// runOnce builds the service without starting it, runs fn and prints its result.
// Jobs fn enqueues stay in the configured queue for a running worker.
func runOnce(fn func(ctx context.Context, app *control.App) (string, error)) {
	cfg := setup()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	app := newApp(ctx, cfg)
	defer func() {
		_ = app.Stop(context.Background())
	}()

	result, err := fn(ctx, app)
	if err != nil {
		slog.Error("Command failed", "error", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}
	fmt.Println(result)
}
