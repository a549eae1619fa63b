// Package lifecycle removes demo explorers that outlived their trial and paid
// explorers whose plan expired.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/core/worker"
	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/indexing/syncproc"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// errBillingUnavailable marks an explorer left for the next sweep because
// the billing provider could not be reached.
var errBillingUnavailable = errors.New("billing provider unavailable")

// SubscriptionCanceller cancels a subscription at the billing provider.
type SubscriptionCanceller interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Config tunes the sweeps.
type Config struct {
	DemoMaxAge           time.Duration
	WorkspaceDeleteDelay time.Duration
	BillingTimeout       time.Duration
}

// Sweeper runs the removeStalledDemoExplorers and removeExpiredExplorers jobs.
type Sweeper struct {
	cfg           Config
	explorers     storage.ExplorerRepository
	workspaces    storage.WorkspaceRepository
	subscriptions storage.SubscriptionRepository
	billing       SubscriptionCanceller
	queue         queue.Enqueuer
	now           func() time.Time
	log           *slog.Logger
}

// NewSweeper creates a sweeper. billing may be nil when no provider is configured.
func NewSweeper(
	cfg Config,
	explorers storage.ExplorerRepository,
	workspaces storage.WorkspaceRepository,
	subscriptions storage.SubscriptionRepository,
	billing SubscriptionCanceller,
	q queue.Enqueuer,
) *Sweeper {
	if cfg.DemoMaxAge <= 0 {
		cfg.DemoMaxAge = 24 * time.Hour
	}
	if cfg.WorkspaceDeleteDelay <= 0 {
		cfg.WorkspaceDeleteDelay = time.Hour
	}
	if cfg.BillingTimeout <= 0 {
		cfg.BillingTimeout = 10 * time.Second
	}
	return &Sweeper{
		cfg:           cfg,
		explorers:     explorers,
		workspaces:    workspaces,
		subscriptions: subscriptions,
		billing:       billing,
		queue:         q,
		now:           time.Now,
		log:           slog.Default().With("component", "lifecycle"),
	}
}

// HandleDemos implements queue.Handler for removeStalledDemoExplorers.
func (s *Sweeper) HandleDemos(ctx context.Context, _ *queue.Job) (string, error) {
	n, err := s.RemoveStalledDemos(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d demo explorers.", n), nil
}

// HandleExpired implements queue.Handler for removeExpiredExplorers.
func (s *Sweeper) HandleExpired(ctx context.Context, _ *queue.Job) (string, error) {
	n, err := s.RemoveExpired(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d expired explorers.", n), nil
}

// RemoveStalledDemos deletes demo explorers older than DemoMaxAge.
func (s *Sweeper) RemoveStalledDemos(ctx context.Context) (int, error) {
	explorers, err := s.explorers.ListDemoCreatedBefore(ctx, s.now().Add(-s.cfg.DemoMaxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to list demo explorers: %w", err)
	}
	return s.removeAll(ctx, explorers, "demo")
}

// RemoveExpired deletes explorers whose plan expiry has passed.
func (s *Sweeper) RemoveExpired(ctx context.Context) (int, error) {
	candidates, err := s.explorers.ListWithExpiringPlans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring explorers: %w", err)
	}
	now := s.now()
	var expired []*domain.Explorer
	for _, e := range candidates {
		if at, ok := e.ExpiresAt(); ok && !at.After(now) {
			expired = append(expired, e)
		}
	}
	return s.removeAll(ctx, expired, "expired")
}

// removeAll keeps going past a failing explorer and returns the joined errors.
func (s *Sweeper) removeAll(ctx context.Context, explorers []*domain.Explorer, reason string) (int, error) {
	removed := 0
	var errs []error
	for _, e := range explorers {
		err := s.remove(ctx, e)
		if errors.Is(err, errBillingUnavailable) {
			s.log.Warn("Skipping explorer until billing is reachable", "explorer_slug", e.Slug, "error", err)
			continue
		}
		if err != nil {
			s.log.Error("Failed to remove explorer", "explorer_slug", e.Slug, "error", err)
			errs = append(errs, fmt.Errorf("failed to remove explorer %s: %w", e.Slug, err))
			continue
		}
		removed++
		metrics.LifecycleDeletions.WithLabelValues(reason).Inc()
		s.log.Info("Explorer scheduled for deletion",
			"explorer_slug", e.Slug,
			"workspace_id", e.WorkspaceID,
			"reason", reason,
		)
	}
	return removed, errors.Join(errs...)
}

// remove marks the workspace, drops billing, then queues the data wipe and
// the deferred workspace delete. The provider subscription is cancelled
// before the workspace is marked: marked workspaces are never listed again.
func (s *Sweeper) remove(ctx context.Context, e *domain.Explorer) error {
	sub := e.Subscription
	if sub != nil && sub.StripeID != "" && s.billing != nil {
		err := timeout.Run(ctx, s.cfg.BillingTimeout, func(ctx context.Context) error {
			return s.billing.CancelSubscription(ctx, sub.StripeID)
		})
		if timeout.IsRecoverable(err) {
			return fmt.Errorf("%w: %v", errBillingUnavailable, err)
		}
		if err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
	}

	if err := s.workspaces.MarkPendingDeletion(ctx, e.WorkspaceID); err != nil {
		return fmt.Errorf("failed to mark workspace: %w", err)
	}

	if sub != nil {
		if err := s.subscriptions.Delete(ctx, sub.ID); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
	}

	// Block timestamps are chain time, so the wipe covers everything up to now.
	from, to := time.Unix(0, 0).UTC(), s.now().UTC()
	reset := worker.ResetPayload{WorkspaceID: e.WorkspaceID, From: from, To: to}
	if err := s.queue.Enqueue(ctx, queue.TypeWorkspaceReset, worker.ResetJobName(e.WorkspaceID, from, to), reset); err != nil {
		return fmt.Errorf("failed to enqueue workspace reset: %w", err)
	}

	err := s.queue.Enqueue(ctx, queue.TypeDeleteWorkspace, worker.DeleteJobName(e.WorkspaceID),
		worker.DeletePayload{WorkspaceID: e.WorkspaceID}, queue.WithDelay(s.cfg.WorkspaceDeleteDelay))
	if err != nil {
		return fmt.Errorf("failed to enqueue workspace delete: %w", err)
	}

	// The subscription is gone, so the next tick stops the process.
	err = s.queue.Enqueue(ctx, queue.TypeUpdateExplorerSyncingProcess, syncproc.JobName(e.Slug),
		syncproc.Payload{ExplorerSlug: e.Slug})
	if err != nil {
		return fmt.Errorf("failed to enqueue sync process update: %w", err)
	}
	return nil
}
