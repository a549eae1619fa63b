package integrity

import (
	"context"
	"fmt"

	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// BlockSyncPayload is read by the block sync pipeline for a single block.
type BlockSyncPayload struct {
	WorkspaceID int64  `json:"workspaceId"`
	BlockNumber int64  `json:"blockNumber"`
	Source      string `json:"source"`
}

// BatchSyncPayload is read by the block sync pipeline for a range.
type BatchSyncPayload struct {
	WorkspaceID int64  `json:"workspaceId"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	Source      string `json:"source"`
}

// GapFinder finds missing block ranges from stored blocks only, without
// any RPC call, and hands them to the sync pipeline.
type GapFinder struct {
	blocks storage.BlockRepository
	queue  queue.Enqueuer
}

// NewGapFinder creates a gap finder.
func NewGapFinder(blocks storage.BlockRepository, q queue.Enqueuer) *GapFinder {
	return &GapFinder{blocks: blocks, queue: q}
}

// Find returns the missing ranges of [lower, upper] for a workspace.
func (g *GapFinder) Find(ctx context.Context, workspaceID, lower, upper int64) ([]storage.Gap, error) {
	if upper < lower {
		return nil, nil
	}
	gaps, err := g.blocks.FindGaps(ctx, workspaceID, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to find gaps: %w", err)
	}
	return gaps, nil
}

// Enqueue hands every gap to the sync pipeline as one batch job.
func (g *GapFinder) Enqueue(ctx context.Context, workspaceID int64, gaps []storage.Gap) error {
	if len(gaps) == 0 {
		return nil
	}
	specs := make([]queue.Spec, len(gaps))
	for i, gap := range gaps {
		specs[i] = queue.Spec{
			Name: BatchSyncJobName(workspaceID, gap.FromBlock, gap.ToBlock),
			Data: BatchSyncPayload{
				WorkspaceID: workspaceID,
				From:        gap.FromBlock,
				To:          gap.ToBlock,
				Source:      "integrityCheck",
			},
		}
	}
	if err := g.queue.BulkEnqueue(ctx, queue.TypeBatchBlockSync, specs); err != nil {
		return fmt.Errorf("failed to enqueue gap jobs: %w", err)
	}
	return nil
}

// BatchSyncJobName returns the dedup name of a batchBlockSync job.
func BatchSyncJobName(workspaceID, from, to int64) string {
	return queue.Name(queue.TypeBatchBlockSync, workspaceID, from, to)
}

// BlockSyncJobName returns the dedup name of a blockSync job.
func BlockSyncJobName(workspaceID, number int64) string {
	return queue.Name(queue.TypeBlockSync, workspaceID, number)
}

// JobName returns the dedup name of an integrityCheck job.
func JobName(workspaceID int64) string {
	return queue.Name(queue.TypeIntegrityCheck, workspaceID)
}
