// Package integrity verifies that a workspace's stored ledger is complete and
// asks the sync pipeline to fill whatever is missing.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// Result strings of a check that stopped early.
const (
	ResultNoWorkspace    = "Could not find workspace."
	ResultNotAllowed     = "Integrity checks are not enabled for this workspace."
	ResultQuotaReached   = "Transaction quota reached."
	ResultNotStarted     = "Recovery check has not started yet."
	ResultSeeded         = "Seeded start block."
	ResultNetworkFailure = "Network unreachable."
)

// Node returns the chain tip of a workspace.
type Node interface {
	LatestBlock(ctx context.Context) (*domain.BlockHeader, error)
}

// Dialer returns the node for a workspace RPC endpoint.
type Dialer func(rpcServer string) Node

// Payload of an integrityCheck job.
type Payload struct {
	WorkspaceID int64 `json:"workspaceId"`
}

// Config tunes the checker.
type Config struct {
	TipStaleness time.Duration
	RPCTimeout   time.Duration
}

// Checker runs the per-workspace integrity check.
type Checker struct {
	cfg        Config
	workspaces storage.WorkspaceRepository
	blocks     storage.BlockRepository
	checks     storage.IntegrityCheckRepository
	gaps       *GapFinder
	queue      queue.Enqueuer
	dial       Dialer
	now        func() time.Time
	log        *slog.Logger
}

// NewChecker creates an integrity checker.
func NewChecker(
	cfg Config,
	workspaces storage.WorkspaceRepository,
	blocks storage.BlockRepository,
	checks storage.IntegrityCheckRepository,
	q queue.Enqueuer,
	dial Dialer,
) *Checker {
	if cfg.TipStaleness <= 0 {
		cfg.TipStaleness = 120 * time.Second
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 10 * time.Second
	}
	return &Checker{
		cfg:        cfg,
		workspaces: workspaces,
		blocks:     blocks,
		checks:     checks,
		gaps:       NewGapFinder(blocks, q),
		queue:      q,
		dial:       dial,
		now:        time.Now,
		log:        slog.Default().With("component", "integrity"),
	}
}

// Handle implements queue.Handler.
func (c *Checker) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.WorkspaceID == 0 {
		return "Missing parameter.", nil
	}
	return c.Run(ctx, p.WorkspaceID)
}

// Run checks one workspace. Preconditions that do not hold end the run with
// a result string and no error.
func (c *Checker) Run(ctx context.Context, workspaceID int64) (string, error) {
	result, err := c.run(ctx, workspaceID)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case result == ResultNetworkFailure:
		outcome = "unreachable"
	case result == ResultSeeded:
		outcome = "seeded"
	}
	metrics.IntegrityResults.WithLabelValues(outcome).Inc()
	return result, err
}

func (c *Checker) run(ctx context.Context, workspaceID int64) (string, error) {
	ws, err := c.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws == nil {
		return ResultNoWorkspace, nil
	}
	if !eligible(ws) {
		return ResultNotAllowed, nil
	}
	if ws.Explorer.Subscription.QuotaReached() {
		return ResultQuotaReached, nil
	}
	log := c.log.With("workspace_id", ws.ID)

	// Never check an empty dataset.
	count, err := c.blocks.Count(ctx, ws.ID)
	if err != nil {
		return "", fmt.Errorf("failed to count blocks: %w", err)
	}
	if count == 0 {
		return ResultNotStarted, nil
	}

	startBlock, err := c.retainedStart(ctx, ws)
	if err != nil {
		return "", err
	}

	start, err := c.blocks.GetByNumber(ctx, ws.ID, startBlock)
	if err != nil {
		return "", fmt.Errorf("failed to get start block: %w", err)
	}
	if start == nil {
		payload := BlockSyncPayload{WorkspaceID: ws.ID, BlockNumber: startBlock, Source: "integrityCheck"}
		err := c.queue.Enqueue(ctx, queue.TypeBlockSync, BlockSyncJobName(ws.ID, startBlock), payload,
			queue.WithPriority(queue.PriorityHighest))
		if err != nil {
			return "", fmt.Errorf("failed to enqueue start block: %w", err)
		}
		log.Info("Start block missing, seeding", "block", startBlock)
		return ResultSeeded, nil
	}

	node := c.dial(ws.RPCServer)
	tip, err := timeout.Do(ctx, c.cfg.RPCTimeout, node.LatestBlock)
	if err != nil {
		if timeout.IsRecoverable(err) {
			log.Warn("Could not reach workspace node", "error", err)
			return ResultNetworkFailure, nil
		}
		return "", fmt.Errorf("failed to fetch chain tip: %w", err)
	}

	latestReady, err := c.blocks.GetLatestReady(ctx, ws.ID)
	if err != nil {
		return "", fmt.Errorf("failed to get latest ready block: %w", err)
	}
	if latestReady != nil && tip.Timestamp.Sub(latestReady.Timestamp) > c.cfg.TipStaleness && tip.Number > latestReady.Number {
		payload := BatchSyncPayload{
			WorkspaceID: ws.ID,
			From:        latestReady.Number,
			To:          tip.Number,
			Source:      "recovery",
		}
		name := BatchSyncJobName(ws.ID, latestReady.Number, tip.Number)
		if err := c.queue.Enqueue(ctx, queue.TypeBatchBlockSync, name, payload); err != nil {
			return "", fmt.Errorf("failed to enqueue recovery range: %w", err)
		}
		log.Info("Ledger behind chain tip, recovering",
			"from", latestReady.Number,
			"to", tip.Number,
			"lag", tip.Timestamp.Sub(latestReady.Timestamp),
		)
	}

	lower := startBlock
	if ws.IntegrityCheck != nil && ws.IntegrityCheck.BlockNumber != nil && *ws.IntegrityCheck.BlockNumber > lower {
		lower = *ws.IntegrityCheck.BlockNumber
	}
	gaps, err := c.gaps.Find(ctx, ws.ID, lower, tip.Number)
	if err != nil {
		return "", err
	}
	if err := c.gaps.Enqueue(ctx, ws.ID, gaps); err != nil {
		return "", err
	}
	metrics.GapsEnqueued.Add(float64(len(gaps)))

	contiguous, err := c.blocks.LatestContiguousReady(ctx, ws.ID, startBlock)
	if err != nil {
		return "", fmt.Errorf("failed to get latest contiguous block: %w", err)
	}
	check := &domain.IntegrityCheck{WorkspaceID: ws.ID, Status: domain.IntegrityHealthy}
	if len(gaps) > 0 {
		check.Status = domain.IntegrityRecovering
	}
	if contiguous != nil {
		check.BlockID = &contiguous.ID
		check.BlockNumber = &contiguous.Number
	}
	if err := c.checks.Upsert(ctx, check); err != nil {
		return "", fmt.Errorf("failed to update integrity check: %w", err)
	}

	if len(gaps) > 0 {
		log.Info("Gaps enqueued", "count", len(gaps), "from", lower, "to", tip.Number)
	}
	return fmt.Sprintf("Found %d gaps between %d and %d.", len(gaps), lower, tip.Number), nil
}

// retainedStart returns the configured start block, moved up to the first
// stored block inside the plan's data retention window when older blocks
// have been pruned.
func (c *Checker) retainedStart(ctx context.Context, ws *domain.Workspace) (int64, error) {
	start := *ws.IntegrityCheckStartBlockNumber
	cutoff, ok := ws.RetentionCutoff(c.now())
	if !ok {
		return start, nil
	}
	first, err := c.blocks.GetFirstAfter(ctx, ws.ID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get first retained block: %w", err)
	}
	if first == nil || first.Number <= start {
		return start, nil
	}
	return first.Number, nil
}

// eligible covers the workspace and explorer flags that gate checks.
func eligible(ws *domain.Workspace) bool {
	e := ws.Explorer
	return ws.Public &&
		!ws.IntegrityCheckDisabled &&
		!ws.PendingDeletion &&
		ws.IntegrityCheckStartBlockNumber != nil &&
		e != nil && !e.IsDemo && e.ShouldSync
}
