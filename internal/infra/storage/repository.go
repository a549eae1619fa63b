package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
)

// ErrNotFound is returned by writes that target a row which does not exist.
// Reads return nil, nil instead.
var ErrNotFound = errors.New("not found")

// Gap is a contiguous range of missing block numbers, both ends inclusive.
type Gap struct {
	FromBlock int64
	ToBlock   int64
}

// WorkspaceRepository handles workspace persistence.
type WorkspaceRepository interface {
	// GetByID loads a workspace with its explorer, subscription, plan,
	// integrity check and RPC health check.
	GetByID(ctx context.Context, id int64) (*domain.Workspace, error)

	// ListIntegrityCheckCandidates returns ids of public workspaces with a
	// configured start block and integrity checks enabled.
	ListIntegrityCheckCandidates(ctx context.Context) ([]int64, error)

	// ListWithRetention returns workspaces whose plan limits data retention.
	ListWithRetention(ctx context.Context) ([]*domain.Workspace, error)

	// MarkPendingDeletion flags the workspace for deletion and makes it private.
	MarkPendingDeletion(ctx context.Context, id int64) error

	// Delete removes the workspace and everything it owns.
	Delete(ctx context.Context, id int64) error
}

// ExplorerRepository handles explorer persistence.
type ExplorerRepository interface {
	// GetBySlug loads an explorer with its workspace, RPC health check,
	// subscription and plan. Returns nil if missing.
	GetBySlug(ctx context.Context, slug string) (*domain.Explorer, error)

	// ListSlugs returns the slugs of all explorers.
	ListSlugs(ctx context.Context) ([]string, error)

	// ListDemoCreatedBefore returns demo explorers created before t.
	ListDemoCreatedBefore(ctx context.Context, t time.Time) ([]*domain.Explorer, error)

	// ListWithExpiringPlans returns non-demo explorers whose plan has an expiry.
	ListWithExpiringPlans(ctx context.Context) ([]*domain.Explorer, error)
}

// SubscriptionRepository handles subscription counters.
type SubscriptionRepository interface {
	// IncrementTransactionCount adds n to the cycle transaction counter.
	IncrementTransactionCount(ctx context.Context, id int64, n int64) error

	// Delete removes the local subscription row.
	Delete(ctx context.Context, id int64) error
}

// BlockRepository handles block persistence.
type BlockRepository interface {
	// Count returns how many blocks the workspace has stored.
	Count(ctx context.Context, workspaceID int64) (int64, error)

	// GetByID loads a block with its transactions. Returns nil if missing.
	GetByID(ctx context.Context, id int64) (*domain.Block, error)

	// GetByNumber returns the block with the given number. Returns nil if missing.
	GetByNumber(ctx context.Context, workspaceID, number int64) (*domain.Block, error)

	// GetLatestReady returns the highest block with IsReady set.
	GetLatestReady(ctx context.Context, workspaceID int64) (*domain.Block, error)

	// GetFirstAfter returns the lowest numbered block with a timestamp after
	// t. Returns nil if there is none.
	GetFirstAfter(ctx context.Context, workspaceID int64, t time.Time) (*domain.Block, error)

	// FindGaps returns missing block ranges inside [fromBlock, toBlock].
	FindGaps(ctx context.Context, workspaceID, fromBlock, toBlock int64) ([]Gap, error)

	// LatestContiguousReady returns the last ready block of the unbroken run
	// of ready blocks starting at fromBlock. Returns nil if fromBlock is not ready.
	LatestContiguousReady(ctx context.Context, workspaceID, fromBlock int64) (*domain.Block, error)

	// ListStalled returns blocks still not ready that were created before t.
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*domain.Block, error)

	// MarkReady sets IsReady on the block.
	MarkReady(ctx context.Context, id int64) error

	// Revert deletes a partially synced block with its transactions.
	Revert(ctx context.Context, id int64) error

	// DeleteBetween deletes up to limit blocks with timestamps in [from, to]
	// and returns how many were deleted.
	DeleteBetween(ctx context.Context, workspaceID int64, from, to time.Time, limit int) (int64, error)
}

// TransactionRepository handles transaction reads.
type TransactionRepository interface {
	// GetByID returns a transaction without relations. Returns nil if missing.
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)

	// GetByHash returns a transaction with its receipt. Returns nil if missing.
	GetByHash(ctx context.Context, workspaceID int64, hash string) (*domain.Transaction, error)

	// GetForTransferBackfill loads a transaction with its block, receipt,
	// native token transfers with balance changes and all trace steps in
	// execution order. Returns nil if missing.
	GetForTransferBackfill(ctx context.Context, id int64) (*domain.Transaction, error)
}

// TraceRepository handles trace steps and contract stubs.
type TraceRepository interface {
	// UpsertContract creates or refreshes a contract stub and returns its id.
	UpsertContract(ctx context.Context, workspaceID int64, address, hashedBytecode string) (int64, error)

	// SaveSteps replaces the trace of the transaction identified by hash.
	// Returns ErrNotFound if the transaction is not stored.
	SaveSteps(ctx context.Context, workspaceID int64, txHash string, steps []*domain.TraceStep) error
}

// TokenTransferRepository handles token transfers and their read model.
type TokenTransferRepository interface {
	// GetByID returns a transfer. Returns nil if missing.
	GetByID(ctx context.Context, id int64) (*domain.TokenTransfer, error)

	// CreateWithEvents inserts transfers, ignoring duplicates, and one event
	// per inserted transfer in a single transaction. Returns the transfers
	// that were actually inserted, with ids set.
	CreateWithEvents(
		ctx context.Context,
		block *domain.Block,
		transfers []*domain.TokenTransfer,
	) ([]*domain.TokenTransfer, error)

	// SaveBalanceChanges stores snapshots, ignoring duplicates.
	SaveBalanceChanges(ctx context.Context, changes []*domain.TokenBalanceChange) error
}

// IntegrityCheckRepository handles the per-workspace integrity pointer.
type IntegrityCheckRepository interface {
	// Upsert sets the pointer and status for the workspace.
	Upsert(ctx context.Context, check *domain.IntegrityCheck) error

	// List returns every integrity check.
	List(ctx context.Context) ([]*domain.IntegrityCheck, error)
}
