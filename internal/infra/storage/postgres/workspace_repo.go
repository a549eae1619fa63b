package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/explorer/internal/core/domain"
)

// WorkspaceRepo implements storage.WorkspaceRepository using PostgreSQL.
type WorkspaceRepo struct {
	db *DB
}

// NewWorkspaceRepo creates a new PostgreSQL workspace repository.
func NewWorkspaceRepo(db *DB) *WorkspaceRepo {
	return &WorkspaceRepo{db: db}
}

// workspaceSelect loads a workspace with every relation the jobs look at.
// Explorer lookups reuse it with a different WHERE clause.
const workspaceSelect = `
	SELECT
		w.id, w.name, w.rpc_server, w.public, w.integrity_check_disabled,
		w.integrity_check_start_block_number, w.pending_deletion, w.created_at,
		e.id AS explorer_id, e.slug AS explorer_slug, e.should_sync AS explorer_should_sync,
		e.is_demo AS explorer_is_demo, e.created_at AS explorer_created_at,
		s.id AS subscription_id, s.stripe_id AS subscription_stripe_id,
		s.status AS subscription_status, s.transaction_quota, s.transaction_count,
		p.id AS plan_id, p.slug AS plan_slug, p.name AS plan_name, p.capabilities AS plan_capabilities,
		ic.block_id AS integrity_block_id, ib.number AS integrity_block_number,
		ic.status AS integrity_status, ic.updated_at AS integrity_updated_at,
		h.is_reachable AS health_is_reachable, h.failed_attempts AS health_failed_attempts,
		h.updated_at AS health_updated_at
	FROM workspaces w
	LEFT JOIN explorers e ON e.workspace_id = w.id
	LEFT JOIN subscriptions s ON s.explorer_id = e.id
	LEFT JOIN plans p ON p.id = s.plan_id
	LEFT JOIN integrity_checks ic ON ic.workspace_id = w.id
	LEFT JOIN blocks ib ON ib.id = ic.block_id
	LEFT JOIN rpc_health_checks h ON h.workspace_id = w.id
`

type workspaceRow struct {
	ID                     int64         `db:"id"`
	Name                   string        `db:"name"`
	RPCServer              string        `db:"rpc_server"`
	Public                 bool          `db:"public"`
	IntegrityCheckDisabled bool          `db:"integrity_check_disabled"`
	StartBlockNumber       sql.NullInt64 `db:"integrity_check_start_block_number"`
	PendingDeletion        bool          `db:"pending_deletion"`
	CreatedAt              sql.NullTime  `db:"created_at"`

	ExplorerID         sql.NullInt64  `db:"explorer_id"`
	ExplorerSlug       sql.NullString `db:"explorer_slug"`
	ExplorerShouldSync sql.NullBool   `db:"explorer_should_sync"`
	ExplorerIsDemo     sql.NullBool   `db:"explorer_is_demo"`
	ExplorerCreatedAt  sql.NullTime   `db:"explorer_created_at"`

	SubscriptionID       sql.NullInt64  `db:"subscription_id"`
	SubscriptionStripeID sql.NullString `db:"subscription_stripe_id"`
	SubscriptionStatus   sql.NullString `db:"subscription_status"`
	TransactionQuota     sql.NullInt64  `db:"transaction_quota"`
	TransactionCount     sql.NullInt64  `db:"transaction_count"`

	PlanID           sql.NullInt64  `db:"plan_id"`
	PlanSlug         sql.NullString `db:"plan_slug"`
	PlanName         sql.NullString `db:"plan_name"`
	PlanCapabilities []byte         `db:"plan_capabilities"`

	IntegrityBlockID     sql.NullInt64  `db:"integrity_block_id"`
	IntegrityBlockNumber sql.NullInt64  `db:"integrity_block_number"`
	IntegrityStatus      sql.NullString `db:"integrity_status"`
	IntegrityUpdatedAt   sql.NullTime   `db:"integrity_updated_at"`

	HealthIsReachable    sql.NullBool  `db:"health_is_reachable"`
	HealthFailedAttempts sql.NullInt64 `db:"health_failed_attempts"`
	HealthUpdatedAt      sql.NullTime  `db:"health_updated_at"`
}

func (r *workspaceRow) toDomain() (*domain.Workspace, error) {
	ws := &domain.Workspace{
		ID:                     r.ID,
		Name:                   r.Name,
		RPCServer:              r.RPCServer,
		Public:                 r.Public,
		IntegrityCheckDisabled: r.IntegrityCheckDisabled,
		PendingDeletion:        r.PendingDeletion,
		CreatedAt:              r.CreatedAt.Time,
	}
	if r.StartBlockNumber.Valid {
		n := r.StartBlockNumber.Int64
		ws.IntegrityCheckStartBlockNumber = &n
	}

	if r.ExplorerID.Valid {
		ws.Explorer = &domain.Explorer{
			ID:          r.ExplorerID.Int64,
			WorkspaceID: r.ID,
			Slug:        r.ExplorerSlug.String,
			ShouldSync:  r.ExplorerShouldSync.Bool,
			IsDemo:      r.ExplorerIsDemo.Bool,
			CreatedAt:   r.ExplorerCreatedAt.Time,
			Workspace:   ws,
		}
	}

	if ws.Explorer != nil && r.SubscriptionID.Valid {
		sub := &domain.Subscription{
			ID:               r.SubscriptionID.Int64,
			ExplorerID:       ws.Explorer.ID,
			StripeID:         r.SubscriptionStripeID.String,
			Status:           domain.SubscriptionStatus(r.SubscriptionStatus.String),
			TransactionQuota: r.TransactionQuota.Int64,
			TransactionCount: r.TransactionCount.Int64,
		}
		if r.PlanID.Valid {
			plan := &domain.Plan{
				ID:   r.PlanID.Int64,
				Slug: r.PlanSlug.String,
				Name: r.PlanName.String,
			}
			if len(r.PlanCapabilities) > 0 {
				if err := json.Unmarshal(r.PlanCapabilities, &plan.Capabilities); err != nil {
					return nil, fmt.Errorf("failed to decode plan capabilities: %w", err)
				}
			}
			sub.Plan = plan
		}
		ws.Explorer.Subscription = sub
	}

	if r.IntegrityStatus.Valid {
		check := &domain.IntegrityCheck{
			WorkspaceID: r.ID,
			Status:      domain.IntegrityStatus(r.IntegrityStatus.String),
			UpdatedAt:   r.IntegrityUpdatedAt.Time,
		}
		if r.IntegrityBlockID.Valid {
			id := r.IntegrityBlockID.Int64
			check.BlockID = &id
		}
		if r.IntegrityBlockNumber.Valid {
			n := r.IntegrityBlockNumber.Int64
			check.BlockNumber = &n
		}
		ws.IntegrityCheck = check
	}

	if r.HealthIsReachable.Valid {
		ws.RPCHealthCheck = &domain.RPCHealthCheck{
			WorkspaceID:    r.ID,
			IsReachable:    r.HealthIsReachable.Bool,
			FailedAttempts: int(r.HealthFailedAttempts.Int64),
			UpdatedAt:      r.HealthUpdatedAt.Time,
		}
	}

	return ws, nil
}

// GetByID loads a workspace with its relations.
func (r *WorkspaceRepo) GetByID(ctx context.Context, id int64) (*domain.Workspace, error) {
	var row workspaceRow
	err := r.db.GetContext(ctx, &row, workspaceSelect+` WHERE w.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return row.toDomain()
}

// ListIntegrityCheckCandidates returns workspaces eligible for integrity checks.
func (r *WorkspaceRepo) ListIntegrityCheckCandidates(ctx context.Context) ([]int64, error) {
	query := `
		SELECT w.id
		FROM workspaces w
		JOIN explorers e ON e.workspace_id = w.id
		WHERE w.public
			AND NOT w.integrity_check_disabled
			AND NOT w.pending_deletion
			AND w.integrity_check_start_block_number IS NOT NULL
			AND e.should_sync
			AND NOT e.is_demo
		ORDER BY w.id
	`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list integrity check candidates: %w", err)
	}
	return ids, nil
}

// ListWithRetention returns workspaces whose plan limits data retention.
func (r *WorkspaceRepo) ListWithRetention(ctx context.Context) ([]*domain.Workspace, error) {
	query := workspaceSelect + `
		WHERE NOT w.pending_deletion
			AND COALESCE((p.capabilities->>'dataRetention')::int, 0) > 0
		ORDER BY w.id
	`
	return r.selectWorkspaces(ctx, query)
}

func (r *WorkspaceRepo) selectWorkspaces(ctx context.Context, query string, args ...any) ([]*domain.Workspace, error) {
	var rows []workspaceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	result := make([]*domain.Workspace, 0, len(rows))
	for i := range rows {
		ws, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, ws)
	}
	return result, nil
}

// MarkPendingDeletion flags the workspace for deletion and makes it private.
func (r *WorkspaceRepo) MarkPendingDeletion(ctx context.Context, id int64) error {
	query := `UPDATE workspaces SET pending_deletion = TRUE, public = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark workspace for deletion: %w", err)
	}
	return nil
}

// Delete removes the workspace. Owned rows cascade.
func (r *WorkspaceRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}
