package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vietddude/explorer/internal/core/domain"
)

// TxRepo implements storage.TransactionRepository using PostgreSQL.
type TxRepo struct {
	db *DB
}

// NewTxRepo creates a new PostgreSQL transaction repository.
func NewTxRepo(db *DB) *TxRepo {
	return &TxRepo{db: db}
}

const txColumns = `
	id, workspace_id, block_id, block_number, hash, from_address,
	COALESCE(to_address, '') AS to_address, value::text AS value,
	COALESCE(gas_price::text, '') AS gas_price, is_syncing
`

type txRow struct {
	ID          int64  `db:"id"`
	WorkspaceID int64  `db:"workspace_id"`
	BlockID     int64  `db:"block_id"`
	BlockNumber int64  `db:"block_number"`
	Hash        string `db:"hash"`
	From        string `db:"from_address"`
	To          string `db:"to_address"`
	Value       string `db:"value"`
	GasPrice    string `db:"gas_price"`
	IsSyncing   bool   `db:"is_syncing"`
}

func (t *txRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		BlockID:     t.BlockID,
		BlockNumber: t.BlockNumber,
		Hash:        t.Hash,
		From:        t.From,
		To:          t.To,
		Value:       t.Value,
		GasPrice:    t.GasPrice,
		IsSyncing:   t.IsSyncing,
	}
}

type receiptRow struct {
	TransactionID     int64  `db:"transaction_id"`
	GasUsed           string `db:"gas_used"`
	EffectiveGasPrice string `db:"effective_gas_price"`
	ContractAddress   string `db:"contract_address"`
	Status            int    `db:"status"`
}

type transferRow struct {
	ID            int64         `db:"id"`
	WorkspaceID   int64         `db:"workspace_id"`
	TransactionID int64         `db:"transaction_id"`
	Token         string        `db:"token"`
	Src           string        `db:"src"`
	Dst           string        `db:"dst"`
	Amount        string        `db:"amount"`
	IsReward      bool          `db:"is_reward"`
	StepPosition  sql.NullInt64 `db:"trace_step_position"`
}

func (t *transferRow) toDomain() *domain.TokenTransfer {
	transfer := &domain.TokenTransfer{
		ID:            t.ID,
		WorkspaceID:   t.WorkspaceID,
		TransactionID: t.TransactionID,
		Token:         t.Token,
		Src:           t.Src,
		Dst:           t.Dst,
		Amount:        t.Amount,
		IsReward:      t.IsReward,
	}
	if t.StepPosition.Valid {
		pos := int(t.StepPosition.Int64)
		transfer.TraceStepPosition = &pos
	}
	return transfer
}

const transferColumns = `id, workspace_id, transaction_id, token, src, dst, amount::text AS amount, is_reward, trace_step_position`

type balanceChangeRow struct {
	ID              int64  `db:"id"`
	WorkspaceID     int64  `db:"workspace_id"`
	TokenTransferID int64  `db:"token_transfer_id"`
	Token           string `db:"token"`
	Address         string `db:"address"`
	CurrentBalance  string `db:"current_balance"`
	PreviousBalance string `db:"previous_balance"`
	Diff            string `db:"diff"`
}

type traceStepRow struct {
	ID                     int64         `db:"id"`
	WorkspaceID            int64         `db:"workspace_id"`
	TransactionID          int64         `db:"transaction_id"`
	Position               int           `db:"position"`
	Op                     string        `db:"op"`
	Depth                  int           `db:"depth"`
	Address                string        `db:"address"`
	Value                  string        `db:"value"`
	Input                  string        `db:"input"`
	ContractHashedBytecode string        `db:"contract_hashed_bytecode"`
	ContractID             sql.NullInt64 `db:"contract_id"`
}

// GetByID returns a transaction without relations.
func (r *TxRepo) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	var row txRow
	err := r.db.GetContext(ctx, &row, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return row.toDomain(), nil
}

// GetByHash returns a transaction with its receipt.
func (r *TxRepo) GetByHash(ctx context.Context, workspaceID int64, hash string) (*domain.Transaction, error) {
	var row txRow
	query := `SELECT ` + txColumns + ` FROM transactions WHERE workspace_id = $1 AND hash = $2`
	err := r.db.GetContext(ctx, &row, query, workspaceID, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by hash: %w", err)
	}
	tx := row.toDomain()
	if err := r.loadReceipt(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *TxRepo) loadReceipt(ctx context.Context, tx *domain.Transaction) error {
	var receipt receiptRow
	query := `
		SELECT transaction_id, gas_used::text AS gas_used,
			COALESCE(effective_gas_price::text, '') AS effective_gas_price,
			COALESCE(contract_address, '') AS contract_address, status
		FROM transaction_receipts
		WHERE transaction_id = $1
	`
	err := r.db.GetContext(ctx, &receipt, query, tx.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get receipt: %w", err)
	}
	tx.Receipt = &domain.Receipt{
		TransactionID:     receipt.TransactionID,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
		ContractAddress:   receipt.ContractAddress,
		Status:            receipt.Status,
	}
	return nil
}

// GetForTransferBackfill loads everything the native transfer backfill reads.
func (r *TxRepo) GetForTransferBackfill(ctx context.Context, id int64) (*domain.Transaction, error) {
	tx, err := r.GetByID(ctx, id)
	if err != nil || tx == nil {
		return tx, err
	}

	var block blockRow
	err = r.db.GetContext(ctx, &block, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, tx.BlockID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction block: %w", err)
	}
	tx.Block = block.toDomain()

	if err := r.loadReceipt(ctx, tx); err != nil {
		return nil, err
	}

	if err := r.loadNativeTransfers(ctx, tx); err != nil {
		return nil, err
	}

	var steps []traceStepRow
	stepQuery := `
		SELECT id, workspace_id, transaction_id, position, op, depth, address,
			value::text AS value, input, contract_hashed_bytecode, contract_id
		FROM trace_steps
		WHERE transaction_id = $1
		ORDER BY position
	`
	if err := r.db.SelectContext(ctx, &steps, stepQuery, id); err != nil {
		return nil, fmt.Errorf("failed to get trace steps: %w", err)
	}
	tx.TraceSteps = make([]*domain.TraceStep, 0, len(steps))
	for _, s := range steps {
		step := &domain.TraceStep{
			ID:                     s.ID,
			WorkspaceID:            s.WorkspaceID,
			TransactionID:          s.TransactionID,
			Position:               s.Position,
			Op:                     s.Op,
			Depth:                  s.Depth,
			Address:                s.Address,
			Value:                  s.Value,
			Input:                  s.Input,
			ContractHashedBytecode: s.ContractHashedBytecode,
		}
		if s.ContractID.Valid {
			cid := s.ContractID.Int64
			step.ContractID = &cid
		}
		tx.TraceSteps = append(tx.TraceSteps, step)
	}

	return tx, nil
}

func (r *TxRepo) loadNativeTransfers(ctx context.Context, tx *domain.Transaction) error {
	var rows []transferRow
	query := `SELECT ` + transferColumns + ` FROM token_transfers WHERE transaction_id = $1 AND token = $2 ORDER BY id`
	if err := r.db.SelectContext(ctx, &rows, query, tx.ID, domain.NativeTokenAddress); err != nil {
		return fmt.Errorf("failed to get native transfers: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	ids := make([]int64, len(rows))
	byID := make(map[int64]*domain.TokenTransfer, len(rows))
	tx.TokenTransfers = make([]*domain.TokenTransfer, 0, len(rows))
	for i := range rows {
		t := rows[i].toDomain()
		ids[i] = t.ID
		byID[t.ID] = t
		tx.TokenTransfers = append(tx.TokenTransfers, t)
	}

	var changes []balanceChangeRow
	changeQuery := `
		SELECT id, workspace_id, token_transfer_id, token, address,
			current_balance::text AS current_balance,
			previous_balance::text AS previous_balance,
			diff::text AS diff
		FROM token_balance_changes
		WHERE token_transfer_id = ANY($1)
	`
	if err := r.db.SelectContext(ctx, &changes, changeQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to get balance changes: %w", err)
	}
	for _, c := range changes {
		t := byID[c.TokenTransferID]
		t.BalanceChanges = append(t.BalanceChanges, &domain.TokenBalanceChange{
			ID:              c.ID,
			WorkspaceID:     c.WorkspaceID,
			TokenTransferID: c.TokenTransferID,
			Token:           c.Token,
			Address:         c.Address,
			CurrentBalance:  c.CurrentBalance,
			PreviousBalance: c.PreviousBalance,
			Diff:            c.Diff,
		})
	}
	return nil
}
