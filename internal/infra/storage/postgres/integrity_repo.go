package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
)

// IntegrityRepo implements storage.IntegrityCheckRepository using PostgreSQL.
type IntegrityRepo struct {
	db *DB
}

// NewIntegrityRepo creates a new PostgreSQL integrity check repository.
func NewIntegrityRepo(db *DB) *IntegrityRepo {
	return &IntegrityRepo{db: db}
}

// Upsert sets the pointer and status for the workspace.
func (r *IntegrityRepo) Upsert(ctx context.Context, check *domain.IntegrityCheck) error {
	query := `
		INSERT INTO integrity_checks (workspace_id, block_id, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (workspace_id) DO UPDATE SET
			block_id = EXCLUDED.block_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, check.WorkspaceID, check.BlockID, string(check.Status)); err != nil {
		return fmt.Errorf("failed to upsert integrity check: %w", err)
	}
	return nil
}

// List returns every integrity check with its block number.
func (r *IntegrityRepo) List(ctx context.Context) ([]*domain.IntegrityCheck, error) {
	query := `
		SELECT ic.workspace_id, ic.block_id, b.number AS block_number, ic.status, ic.updated_at
		FROM integrity_checks ic
		LEFT JOIN blocks b ON b.id = ic.block_id
		ORDER BY ic.workspace_id
	`
	var rows []struct {
		WorkspaceID int64         `db:"workspace_id"`
		BlockID     sql.NullInt64 `db:"block_id"`
		BlockNumber sql.NullInt64 `db:"block_number"`
		Status      string        `db:"status"`
		UpdatedAt   time.Time     `db:"updated_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list integrity checks: %w", err)
	}

	checks := make([]*domain.IntegrityCheck, 0, len(rows))
	for _, row := range rows {
		check := &domain.IntegrityCheck{
			WorkspaceID: row.WorkspaceID,
			Status:      domain.IntegrityStatus(row.Status),
			UpdatedAt:   row.UpdatedAt,
		}
		if row.BlockID.Valid {
			id := row.BlockID.Int64
			check.BlockID = &id
		}
		if row.BlockNumber.Valid {
			n := row.BlockNumber.Int64
			check.BlockNumber = &n
		}
		checks = append(checks, check)
	}
	return checks, nil
}
