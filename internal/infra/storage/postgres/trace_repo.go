package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// TraceRepo implements storage.TraceRepository using PostgreSQL.
type TraceRepo struct {
	db *DB
}

// NewTraceRepo creates a new PostgreSQL trace repository.
func NewTraceRepo(db *DB) *TraceRepo {
	return &TraceRepo{db: db}
}

// UpsertContract creates or refreshes a contract stub.
func (r *TraceRepo) UpsertContract(
	ctx context.Context,
	workspaceID int64,
	address, hashedBytecode string,
) (int64, error) {
	query := `
		INSERT INTO contracts (workspace_id, address, hashed_bytecode)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, address) DO UPDATE SET
			hashed_bytecode = EXCLUDED.hashed_bytecode
		RETURNING id
	`
	var id int64
	if err := r.db.GetContext(ctx, &id, query, workspaceID, address, hashedBytecode); err != nil {
		return 0, fmt.Errorf("failed to upsert contract: %w", err)
	}
	return id, nil
}

// SaveSteps replaces the stored trace of a transaction.
func (r *TraceRepo) SaveSteps(
	ctx context.Context,
	workspaceID int64,
	txHash string,
	steps []*domain.TraceStep,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var transactionID int64
	err = tx.GetContext(ctx, &transactionID,
		`SELECT id FROM transactions WHERE workspace_id = $1 AND hash = $2`, workspaceID, txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trace_steps WHERE transaction_id = $1`, transactionID); err != nil {
		return fmt.Errorf("failed to clear trace steps: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_steps
			(workspace_id, transaction_id, position, op, depth, address, value, input, contract_hashed_bytecode, contract_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trace step insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range steps {
		value := s.Value
		if value == "" {
			value = "0"
		}
		_, err := stmt.ExecContext(ctx,
			workspaceID,
			transactionID,
			i,
			s.Op,
			s.Depth,
			s.Address,
			value,
			s.Input,
			s.ContractHashedBytecode,
			s.ContractID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trace step: %w", err)
		}
	}

	return tx.Commit()
}
