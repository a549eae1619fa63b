// Package worker holds the data deletion jobs: plan-based retention pruning
// and the full wipe of workspaces scheduled for deletion.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/infra/storage"
)

const defaultBatchSize = 1000

// Pruner deletes blocks older than each plan's data retention.
type Pruner struct {
	workspaces storage.WorkspaceRepository
	blocks     storage.BlockRepository
	batchSize  int
	now        func() time.Time
	log        *slog.Logger
}

// NewPruner creates a new Pruner.
func NewPruner(workspaces storage.WorkspaceRepository, blocks storage.BlockRepository, batchSize int) *Pruner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Pruner{
		workspaces: workspaces,
		blocks:     blocks,
		batchSize:  batchSize,
		now:        time.Now,
		log:        slog.Default().With("component", "pruner"),
	}
}

// Prune runs one pass over all workspaces with a retention limit and returns
// the number of deleted blocks. A failing workspace does not stop the pass.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	workspaces, err := p.workspaces.ListWithRetention(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workspaces with retention: %w", err)
	}

	var total int64
	for _, ws := range workspaces {
		threshold, ok := ws.RetentionCutoff(p.now())
		if !ok {
			continue
		}

		n, err := deleteInBatches(ctx, p.blocks, ws.ID, time.Unix(0, 0).UTC(), threshold, p.batchSize)
		total += n
		if err != nil {
			p.log.Error("Failed to prune workspace", "workspace_id", ws.ID, "error", err)
			continue
		}
		if n > 0 {
			p.log.Info("Pruned blocks", "workspace_id", ws.ID, "count", n, "older_than", threshold)
		}
	}
	metrics.RetentionPruned.Add(float64(total))
	return total, nil
}

// deleteInBatches repeats DeleteBetween until a batch comes back short.
func deleteInBatches(
	ctx context.Context,
	blocks storage.BlockRepository,
	workspaceID int64,
	from, to time.Time,
	batchSize int,
) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := blocks.DeleteBetween(ctx, workspaceID, from, to, batchSize)
		if err != nil {
			return total, err
		}
		metrics.DBBatchSize.WithLabelValues("delete_blocks").Observe(float64(n))
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}
