package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vietddude/explorer/internal/core/domain"
)

// TransferRepo implements storage.TokenTransferRepository using PostgreSQL.
type TransferRepo struct {
	db *DB
}

// NewTransferRepo creates a new PostgreSQL token transfer repository.
func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

// GetByID returns a transfer.
func (r *TransferRepo) GetByID(ctx context.Context, id int64) (*domain.TokenTransfer, error) {
	var row transferRow
	err := r.db.GetContext(ctx, &row, `SELECT `+transferColumns+` FROM token_transfers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token transfer: %w", err)
	}
	return row.toDomain(), nil
}

// CreateWithEvents inserts transfers and their events in one transaction.
func (r *TransferRepo) CreateWithEvents(
	ctx context.Context,
	block *domain.Block,
	transfers []*domain.TokenTransfer,
) ([]*domain.TokenTransfer, error) {
	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback() }()

	created, err := uow.InsertTokenTransfers(ctx, transfers)
	if err != nil {
		return nil, err
	}

	events := make([]*domain.TokenTransferEvent, 0, len(created))
	for _, t := range created {
		events = append(events, domain.NewTokenTransferEvent(t, block))
	}
	if err := uow.InsertTokenTransferEvents(ctx, events); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit token transfers: %w", err)
	}
	return created, nil
}

// SaveBalanceChanges stores balance snapshots, skipping existing ones.
func (r *TransferRepo) SaveBalanceChanges(ctx context.Context, changes []*domain.TokenBalanceChange) error {
	if len(changes) == 0 {
		return nil
	}

	workspaceIDs := make([]int64, len(changes))
	transferIDs := make([]int64, len(changes))
	tokens := make([]string, len(changes))
	addresses := make([]string, len(changes))
	current := make([]string, len(changes))
	previous := make([]string, len(changes))
	diffs := make([]string, len(changes))

	for i, c := range changes {
		workspaceIDs[i] = c.WorkspaceID
		transferIDs[i] = c.TokenTransferID
		tokens[i] = c.Token
		addresses[i] = c.Address
		current[i] = c.CurrentBalance
		previous[i] = c.PreviousBalance
		diffs[i] = c.Diff
	}

	query := `
		INSERT INTO token_balance_changes
			(workspace_id, token_transfer_id, token, address, current_balance, previous_balance, diff)
		SELECT * FROM unnest(
			$1::bigint[], $2::bigint[], $3::text[], $4::text[], $5::numeric[], $6::numeric[], $7::numeric[]
		)
		ON CONFLICT (token_transfer_id, address) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		pq.Array(workspaceIDs),
		pq.Array(transferIDs),
		pq.Array(tokens),
		pq.Array(addresses),
		pq.Array(current),
		pq.Array(previous),
		pq.Array(diffs),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance changes: %w", err)
	}
	return nil
}
