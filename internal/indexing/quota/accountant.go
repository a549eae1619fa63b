// Package quota counts synced transactions against an explorer's
// subscription and reports metered usage to the billing provider.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// UsageReporter is the billing provider side of metered plans.
type UsageReporter interface {
	SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error)
	ReportUsage(ctx context.Context, itemID string, quantity int64, idempotencyKey string) error
}

// Payload of an increaseStripeBillingQuota job.
type Payload struct {
	BlockID int64 `json:"blockId"`
}

// Accountant runs once per ready block.
type Accountant struct {
	blocks        storage.BlockRepository
	workspaces    storage.WorkspaceRepository
	subscriptions storage.SubscriptionRepository
	reporter      UsageReporter
	timeout       time.Duration
	log           *slog.Logger
}

// NewAccountant creates an accountant. reporter may be nil when no billing
// provider is configured; metered usage is then only counted locally.
func NewAccountant(
	blocks storage.BlockRepository,
	workspaces storage.WorkspaceRepository,
	subscriptions storage.SubscriptionRepository,
	reporter UsageReporter,
	callTimeout time.Duration,
) *Accountant {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Accountant{
		blocks:        blocks,
		workspaces:    workspaces,
		subscriptions: subscriptions,
		reporter:      reporter,
		timeout:       callTimeout,
		log:           slog.Default().With("component", "quota"),
	}
}

// Handle implements queue.Handler.
func (a *Accountant) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.BlockID == 0 {
		return "Missing parameter.", nil
	}
	return a.OnBlockReady(ctx, p.BlockID)
}

// OnBlockReady adds the block's transactions to the subscription counter and,
// for metered plans, reports them with the block id as idempotency key.
func (a *Accountant) OnBlockReady(ctx context.Context, blockID int64) (string, error) {
	block, err := a.blocks.GetByID(ctx, blockID)
	if err != nil {
		return "", fmt.Errorf("failed to get block: %w", err)
	}
	if block == nil {
		return "Could not find block.", nil
	}
	count := int64(len(block.Transactions))
	if count == 0 {
		return "Empty block.", nil
	}

	ws, err := a.workspaces.GetByID(ctx, block.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws == nil || ws.Explorer == nil {
		return "No explorer.", nil
	}
	sub := ws.Explorer.Subscription
	if !sub.IsActive() {
		return "No active subscription.", nil
	}

	if !sub.Plan.IsMetered() {
		if err := a.count(ctx, sub.ID, count); err != nil {
			return "", err
		}
		return fmt.Sprintf("Counted %d transactions.", count), nil
	}
	if a.reporter == nil || sub.StripeID == "" {
		a.log.Warn("Metered plan without billing subscription",
			"explorer_slug", ws.Explorer.Slug,
			"block_id", block.ID,
		)
		if err := a.count(ctx, sub.ID, count); err != nil {
			return "", err
		}
		return fmt.Sprintf("Counted %d transactions.", count), nil
	}

	// Report before counting: a failed report is retried and the provider
	// drops the repeat by idempotency key, while the local counter has none.
	err = timeout.Run(ctx, a.timeout, func(ctx context.Context) error {
		itemID, err := a.reporter.SubscriptionItemID(ctx, sub.StripeID)
		if err != nil {
			return err
		}
		return a.reporter.ReportUsage(ctx, itemID, count, strconv.FormatInt(block.ID, 10))
	})
	if err != nil && !timeout.IsRecoverable(err) {
		return "", fmt.Errorf("failed to report usage: %w", err)
	}
	if err := a.count(ctx, sub.ID, count); err != nil {
		return "", err
	}
	if err != nil {
		a.log.Warn("Billing provider unreachable", "block_id", block.ID, "error", err)
		return "Timed out while reporting usage.", nil
	}
	metrics.BillingUsageReported.Add(float64(count))
	return fmt.Sprintf("Reported %d transactions.", count), nil
}

func (a *Accountant) count(ctx context.Context, subscriptionID, n int64) error {
	if err := a.subscriptions.IncrementTransactionCount(ctx, subscriptionID, n); err != nil {
		return fmt.Errorf("failed to increment transaction count: %w", err)
	}
	return nil
}
