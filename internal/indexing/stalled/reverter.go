// Package stalled rolls back blocks whose transactions were never fully
// written and releases complete ones to billing.
package stalled

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// Payload of revertPartialBlock and increaseStripeBillingQuota jobs.
type Payload struct {
	BlockID int64 `json:"blockId"`
}

// RevertResult describes what the reverter did with a block.
type RevertResult struct {
	BlockID     int64
	WorkspaceID int64
	Number      int64
	Reverted    bool
	SyncingTxs  int
	Duration    time.Duration
}

func (r *RevertResult) String() string {
	if r.Reverted {
		return fmt.Sprintf("Block %d reverted, %d transactions were syncing.", r.Number, r.SyncingTxs)
	}
	return fmt.Sprintf("Block %d is complete.", r.Number)
}

// Reverter resolves a single partially synced block.
type Reverter struct {
	blocks storage.BlockRepository
	queue  queue.Enqueuer
	log    *slog.Logger
}

// NewReverter creates a reverter.
func NewReverter(blocks storage.BlockRepository, q queue.Enqueuer) *Reverter {
	return &Reverter{
		blocks: blocks,
		queue:  q,
		log:    slog.Default().With("component", "reverter"),
	}
}

// Handle implements queue.Handler.
func (r *Reverter) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.BlockID == 0 {
		return "Missing parameter.", nil
	}
	res, err := r.Revert(ctx, p.BlockID)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// Revert deletes the block with its partial transactions if any of them is
// still syncing. Otherwise the block is marked ready and queued for billing.
func (r *Reverter) Revert(ctx context.Context, blockID int64) (*RevertResult, error) {
	start := time.Now()
	block, err := r.blocks.GetByID(ctx, blockID)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", blockID, err)
	}
	if block == nil {
		return nil, fmt.Errorf("failed to get block %d: %w", blockID, storage.ErrNotFound)
	}

	result := &RevertResult{BlockID: block.ID, WorkspaceID: block.WorkspaceID, Number: block.Number}
	for _, tx := range block.Transactions {
		if tx.IsSyncing {
			result.SyncingTxs++
		}
	}

	if result.SyncingTxs > 0 {
		if err := r.blocks.Revert(ctx, block.ID); err != nil {
			return nil, fmt.Errorf("failed to revert block %d: %w", block.Number, err)
		}
		result.Reverted = true
		result.Duration = time.Since(start)
		metrics.BlocksReverted.WithLabelValues("reverted").Inc()
		r.log.Info("Reverted partial block",
			"workspace_id", block.WorkspaceID,
			"block", block.Number,
			"syncing_txs", result.SyncingTxs,
		)
		return result, nil
	}

	if !block.IsReady {
		if err := r.blocks.MarkReady(ctx, block.ID); err != nil {
			return nil, fmt.Errorf("failed to mark block %d ready: %w", block.Number, err)
		}
	}
	name := queue.Name(queue.TypeIncreaseStripeBillingQuota, block.ID)
	if err := r.queue.Enqueue(ctx, queue.TypeIncreaseStripeBillingQuota, name, Payload{BlockID: block.ID}); err != nil {
		return nil, fmt.Errorf("failed to enqueue billing for block %d: %w", block.Number, err)
	}
	result.Duration = time.Since(start)
	metrics.BlocksReverted.WithLabelValues("completed").Inc()
	r.log.Debug("Block complete", "workspace_id", block.WorkspaceID, "block", block.Number)
	return result, nil
}
