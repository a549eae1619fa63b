package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/explorer/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the integrity check status of all workspaces",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := setup()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	checks, err := postgres.NewIntegrityRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list integrity checks", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "WORKSPACE\tSTATUS\tBLOCK\tUPDATED")

	for _, c := range checks {
		block := "-"
		if c.BlockNumber != nil {
			block = fmt.Sprint(*c.BlockNumber)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.WorkspaceID, c.Status, block, c.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}
