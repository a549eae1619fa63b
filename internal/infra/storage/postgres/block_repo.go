package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// BlockRepo implements storage.BlockRepository using PostgreSQL.
type BlockRepo struct {
	db *DB
}

// NewBlockRepo creates a new PostgreSQL block repository.
func NewBlockRepo(db *DB) *BlockRepo {
	return &BlockRepo{db: db}
}

const blockColumns = `
	id, workspace_id, number, hash, timestamp, miner,
	base_fee_per_gas::text AS base_fee_per_gas, is_ready, created_at
`

type blockRow struct {
	ID            int64          `db:"id"`
	WorkspaceID   int64          `db:"workspace_id"`
	Number        int64          `db:"number"`
	Hash          string         `db:"hash"`
	Timestamp     time.Time      `db:"timestamp"`
	Miner         string         `db:"miner"`
	BaseFeePerGas sql.NullString `db:"base_fee_per_gas"`
	IsReady       bool           `db:"is_ready"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (b *blockRow) toDomain() *domain.Block {
	return &domain.Block{
		ID:            b.ID,
		WorkspaceID:   b.WorkspaceID,
		Number:        b.Number,
		Hash:          b.Hash,
		Timestamp:     b.Timestamp,
		Miner:         b.Miner,
		BaseFeePerGas: b.BaseFeePerGas.String,
		IsReady:       b.IsReady,
		CreatedAt:     b.CreatedAt,
	}
}

func (r *BlockRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Block, error) {
	var row blockRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return row.toDomain(), nil
}

// Count returns how many blocks the workspace has stored.
func (r *BlockRepo) Count(ctx context.Context, workspaceID int64) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM blocks WHERE workspace_id = $1`, workspaceID); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// GetByID loads a block with its transactions.
func (r *BlockRepo) GetByID(ctx context.Context, id int64) (*domain.Block, error) {
	block, err := r.getOne(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id)
	if err != nil || block == nil {
		return block, err
	}

	var rows []txRow
	query := `SELECT ` + txColumns + ` FROM transactions WHERE block_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, fmt.Errorf("failed to get block transactions: %w", err)
	}
	block.Transactions = make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		block.Transactions = append(block.Transactions, rows[i].toDomain())
	}
	return block, nil
}

// GetByNumber retrieves a block by number.
func (r *BlockRepo) GetByNumber(ctx context.Context, workspaceID, number int64) (*domain.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE workspace_id = $1 AND number = $2`
	return r.getOne(ctx, query, workspaceID, number)
}

// GetLatestReady retrieves the highest ready block.
func (r *BlockRepo) GetLatestReady(ctx context.Context, workspaceID int64) (*domain.Block, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE workspace_id = $1 AND is_ready
		ORDER BY number DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, workspaceID)
}

func (r *BlockRepo) GetFirstAfter(ctx context.Context, workspaceID int64, t time.Time) (*domain.Block, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE workspace_id = $1 AND timestamp > $2
		ORDER BY number
		LIMIT 1
	`
	return r.getOne(ctx, query, workspaceID, t)
}

// FindGaps finds missing blocks in a range. The bounds are added as
// sentinels so leading and trailing gaps are reported too.
func (r *BlockRepo) FindGaps(ctx context.Context, workspaceID, fromBlock, toBlock int64) ([]storage.Gap, error) {
	query := `
		WITH numbers AS (
			SELECT $2::bigint - 1 AS number
			UNION ALL
			SELECT number FROM blocks WHERE workspace_id = $1 AND number BETWEEN $2 AND $3
			UNION ALL
			SELECT $3::bigint + 1
		), numbered AS (
			SELECT number, LEAD(number) OVER (ORDER BY number) AS next_number
			FROM numbers
		)
		SELECT number + 1 AS from_block, next_number - 1 AS to_block
		FROM numbered
		WHERE next_number - number > 1
		ORDER BY number
	`

	rows, err := r.db.QueryxContext(ctx, query, workspaceID, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to find gaps: %w", err)
	}
	defer rows.Close()

	var gaps []storage.Gap
	for rows.Next() {
		var gap struct {
			FromBlock int64 `db:"from_block"`
			ToBlock   int64 `db:"to_block"`
		}
		if err := rows.StructScan(&gap); err != nil {
			return nil, fmt.Errorf("failed to scan gap: %w", err)
		}
		gaps = append(gaps, storage.Gap{FromBlock: gap.FromBlock, ToBlock: gap.ToBlock})
	}
	return gaps, rows.Err()
}

// LatestContiguousReady returns the end of the ready run that starts at fromBlock.
// Within a run, number - row_number() is constant and equals fromBlock - 1.
func (r *BlockRepo) LatestContiguousReady(ctx context.Context, workspaceID, fromBlock int64) (*domain.Block, error) {
	query := `
		WITH ordered AS (
			SELECT id, number, number - ROW_NUMBER() OVER (ORDER BY number) AS grp
			FROM blocks
			WHERE workspace_id = $1 AND number >= $2 AND is_ready
		)
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE id = (
			SELECT id FROM ordered WHERE grp = $2::bigint - 1 ORDER BY number DESC LIMIT 1
		)
	`
	return r.getOne(ctx, query, workspaceID, fromBlock)
}

// ListStalled returns blocks still not ready that were created before t.
func (r *BlockRepo) ListStalled(ctx context.Context, before time.Time, limit int) ([]*domain.Block, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE NOT is_ready AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	var rows []blockRow
	if err := r.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list stalled blocks: %w", err)
	}

	blocks := make([]*domain.Block, 0, len(rows))
	for i := range rows {
		blocks = append(blocks, rows[i].toDomain())
	}
	return blocks, nil
}

// MarkReady sets is_ready on the block.
func (r *BlockRepo) MarkReady(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE blocks SET is_ready = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark block ready: %w", err)
	}
	return nil
}

// Revert deletes a partially synced block. Transactions, receipts and
// trace steps cascade.
func (r *BlockRepo) Revert(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revert block: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBetween deletes up to limit blocks with timestamps in [from, to].
func (r *BlockRepo) DeleteBetween(
	ctx context.Context,
	workspaceID int64,
	from, to time.Time,
	limit int,
) (int64, error) {
	query := `
		DELETE FROM blocks
		WHERE id IN (
			SELECT id FROM blocks
			WHERE workspace_id = $1 AND timestamp BETWEEN $2 AND $3
			LIMIT $4
		)
	`
	res, err := r.db.ExecContext(ctx, query, workspaceID, from, to, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete blocks: %w", err)
	}
	return res.RowsAffected()
}
