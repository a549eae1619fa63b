package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/indexing/metrics"
)

// UnitOfWork bundles multi-row writes into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// InsertTokenTransfers inserts transfers with a multi-row INSERT, skipping
// rows that already exist. Only the inserted rows are returned.
func (u *UnitOfWork) InsertTokenTransfers(
	ctx context.Context,
	transfers []*domain.TokenTransfer,
) ([]*domain.TokenTransfer, error) {
	if len(transfers) == 0 {
		return nil, nil
	}

	workspaceIDs := make([]int64, len(transfers))
	transactionIDs := make([]int64, len(transfers))
	tokens := make([]string, len(transfers))
	srcs := make([]string, len(transfers))
	dsts := make([]string, len(transfers))
	amounts := make([]string, len(transfers))
	rewards := make([]bool, len(transfers))
	positions := make([]sql.NullInt64, len(transfers))

	for i, t := range transfers {
		workspaceIDs[i] = t.WorkspaceID
		transactionIDs[i] = t.TransactionID
		tokens[i] = t.Token
		srcs[i] = t.Src
		dsts[i] = t.Dst
		amounts[i] = t.Amount
		rewards[i] = t.IsReward
		if t.TraceStepPosition != nil {
			positions[i] = sql.NullInt64{Int64: int64(*t.TraceStepPosition), Valid: true}
		}
	}

	metrics.DBBatchSize.WithLabelValues("insert_token_transfers").Observe(float64(len(transfers)))

	query := `
		INSERT INTO token_transfers (workspace_id, transaction_id, token, src, dst, amount, is_reward, trace_step_position)
		SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::text[], $4::text[], $5::text[], $6::numeric[], $7::boolean[], $8::int[])
		ON CONFLICT DO NOTHING
		RETURNING ` + transferColumns

	var rows []transferRow
	err := u.tx.SelectContext(ctx, &rows, query,
		pq.Array(workspaceIDs),
		pq.Array(transactionIDs),
		pq.Array(tokens),
		pq.Array(srcs),
		pq.Array(dsts),
		pq.Array(amounts),
		pq.Array(rewards),
		pq.Array(positions),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token transfers: %w", err)
	}

	created := make([]*domain.TokenTransfer, 0, len(rows))
	for i := range rows {
		created = append(created, rows[i].toDomain())
	}
	return created, nil
}

// InsertTokenTransferEvents inserts read-model rows, skipping existing ones.
func (u *UnitOfWork) InsertTokenTransferEvents(ctx context.Context, events []*domain.TokenTransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	workspaceIDs := make([]int64, len(events))
	transferIDs := make([]int64, len(events))
	blockNumbers := make([]int64, len(events))
	timestamps := make([]string, len(events))
	tokens := make([]string, len(events))
	tokenTypes := make([]string, len(events))
	srcs := make([]string, len(events))
	dsts := make([]string, len(events))
	amounts := make([]string, len(events))

	for i, e := range events {
		workspaceIDs[i] = e.WorkspaceID
		transferIDs[i] = e.TokenTransferID
		blockNumbers[i] = e.BlockNumber
		timestamps[i] = e.Timestamp.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
		tokens[i] = e.Token
		tokenTypes[i] = e.TokenType
		srcs[i] = e.Src
		dsts[i] = e.Dst
		amounts[i] = e.Amount
	}

	query := `
		INSERT INTO token_transfer_events
			(workspace_id, token_transfer_id, block_number, timestamp, token, token_type, src, dst, amount)
		SELECT * FROM unnest(
			$1::bigint[], $2::bigint[], $3::bigint[], $4::timestamptz[], $5::text[],
			$6::text[], $7::text[], $8::text[], $9::numeric[]
		)
		ON CONFLICT (token_transfer_id) DO NOTHING
	`
	_, err := u.tx.ExecContext(ctx, query,
		pq.Array(workspaceIDs),
		pq.Array(transferIDs),
		pq.Array(blockNumbers),
		pq.Array(timestamps),
		pq.Array(tokens),
		pq.Array(tokenTypes),
		pq.Array(srcs),
		pq.Array(dsts),
		pq.Array(amounts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert token transfer events: %w", err)
	}
	return nil
}
