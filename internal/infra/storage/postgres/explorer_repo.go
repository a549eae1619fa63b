package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
)

// ExplorerRepo implements storage.ExplorerRepository using PostgreSQL.
type ExplorerRepo struct {
	db *DB
}

// NewExplorerRepo creates a new PostgreSQL explorer repository.
func NewExplorerRepo(db *DB) *ExplorerRepo {
	return &ExplorerRepo{db: db}
}

// GetBySlug loads an explorer with its workspace and billing relations.
func (r *ExplorerRepo) GetBySlug(ctx context.Context, slug string) (*domain.Explorer, error) {
	var row workspaceRow
	err := r.db.GetContext(ctx, &row, workspaceSelect+` WHERE e.slug = $1`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get explorer: %w", err)
	}

	ws, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return ws.Explorer, nil
}

// ListSlugs returns the slugs of all explorers.
func (r *ExplorerRepo) ListSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	if err := r.db.SelectContext(ctx, &slugs, `SELECT slug FROM explorers ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list explorer slugs: %w", err)
	}
	return slugs, nil
}

// ListDemoCreatedBefore returns demo explorers created before t.
func (r *ExplorerRepo) ListDemoCreatedBefore(ctx context.Context, t time.Time) ([]*domain.Explorer, error) {
	query := workspaceSelect + `
		WHERE e.is_demo AND e.created_at < $1 AND NOT w.pending_deletion
		ORDER BY e.id
	`
	return r.selectExplorers(ctx, query, t)
}

// ListWithExpiringPlans returns non-demo explorers on plans that expire.
func (r *ExplorerRepo) ListWithExpiringPlans(ctx context.Context) ([]*domain.Explorer, error) {
	query := workspaceSelect + `
		WHERE NOT e.is_demo
			AND NOT w.pending_deletion
			AND COALESCE((p.capabilities->>'expiresAfterDays')::int, 0) > 0
		ORDER BY e.id
	`
	return r.selectExplorers(ctx, query)
}

func (r *ExplorerRepo) selectExplorers(ctx context.Context, query string, args ...any) ([]*domain.Explorer, error) {
	var rows []workspaceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list explorers: %w", err)
	}

	result := make([]*domain.Explorer, 0, len(rows))
	for i := range rows {
		ws, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		if ws.Explorer != nil {
			result = append(result, ws.Explorer)
		}
	}
	return result, nil
}

// SubscriptionRepo implements storage.SubscriptionRepository using PostgreSQL.
type SubscriptionRepo struct {
	db *DB
}

// NewSubscriptionRepo creates a new PostgreSQL subscription repository.
func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// IncrementTransactionCount adds n to the subscription's transaction counter.
func (r *SubscriptionRepo) IncrementTransactionCount(ctx context.Context, id int64, n int64) error {
	query := `UPDATE subscriptions SET transaction_count = transaction_count + $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, n); err != nil {
		return fmt.Errorf("failed to increment transaction count: %w", err)
	}
	return nil
}

// Delete removes the local subscription row.
func (r *SubscriptionRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
