package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/core/worker"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage/memory"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeBilling struct {
	cancelled []string
	err       error
}

func (f *fakeBilling) CancelSubscription(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func addExplorer(store *memory.MemoryStorage, slug string, demo bool, created time.Time, plan *domain.Plan) *domain.Workspace {
	return store.AddWorkspace(&domain.Workspace{
		Name:   slug,
		Public: true,
		Explorer: &domain.Explorer{
			Slug:       slug,
			IsDemo:     demo,
			ShouldSync: true,
			CreatedAt:  created,
			Subscription: &domain.Subscription{
				Status:   domain.SubscriptionActive,
				StripeID: "sub_" + slug,
				Plan:     plan,
			},
		},
	})
}

func newSweeper(store *memory.MemoryStorage, billing SubscriptionCanceller, q queue.Enqueuer) *Sweeper {
	s := NewSweeper(
		Config{DemoMaxAge: 24 * time.Hour, WorkspaceDeleteDelay: time.Hour},
		memory.NewExplorerRepo(store),
		memory.NewWorkspaceRepo(store),
		memory.NewSubscriptionRepo(store),
		billing,
		q,
	)
	s.now = func() time.Time { return now }
	return s
}

func TestSweeper_RemovesStalledDemos(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := queue.NewMemoryQueue()
	billing := &fakeBilling{}
	old := addExplorer(store, "old-demo", true, now.Add(-25*time.Hour), nil)
	addExplorer(store, "new-demo", true, now.Add(-time.Hour), nil)
	addExplorer(store, "paid", false, now.Add(-100*time.Hour), nil)

	n, err := newSweeper(store, billing, q).RemoveStalledDemos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"sub_old-demo"}, billing.cancelled)

	ws := store.Workspace(old.ID)
	assert.True(t, ws.PendingDeletion)
	assert.False(t, ws.Public)
	assert.Nil(t, ws.Explorer.Subscription)

	resets := q.Jobs(queue.TypeWorkspaceReset)
	require.Len(t, resets, 1)
	assert.Equal(t, worker.ResetJobName(old.ID, time.Unix(0, 0), now), resets[0].Name)
	var p worker.ResetPayload
	require.NoError(t, resets[0].Decode(&p))
	assert.True(t, p.To.Equal(now))

	deletes := q.Jobs(queue.TypeDeleteWorkspace)
	require.Len(t, deletes, 1)
	assert.Equal(t, worker.DeleteJobName(old.ID), deletes[0].Name)
	assert.True(t, deletes[0].RunAt.After(time.Now().Add(50*time.Minute)))

	assert.Equal(t, "updateExplorerSyncingProcess-old-demo", q.Jobs(queue.TypeUpdateExplorerSyncingProcess)[0].Name)

	// Marked workspaces are not listed again.
	n, err = newSweeper(store, billing, q).RemoveStalledDemos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweeper_RemovesExpiredExplorers(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := queue.NewMemoryQueue()
	trial := &domain.Plan{Slug: "trial", Capabilities: domain.PlanCapabilities{ExpiresAfterDays: 7}}
	expired := addExplorer(store, "expired", false, now.AddDate(0, 0, -8), trial)
	addExplorer(store, "fresh", false, now.AddDate(0, 0, -3), trial)
	addExplorer(store, "forever", false, now.AddDate(0, -6, 0), &domain.Plan{Slug: "team"})

	n, err := newSweeper(store, nil, q).RemoveExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.Workspace(expired.ID).PendingDeletion)
	assert.Len(t, q.Jobs(queue.TypeWorkspaceReset), 1)
}

func TestSweeper_BillingFailureLeavesWorkspaceUntouched(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := queue.NewMemoryQueue()
	ws := addExplorer(store, "demo", true, now.Add(-48*time.Hour), nil)

	_, err := newSweeper(store, &fakeBilling{err: errors.New("card_declined")}, q).RemoveStalledDemos(context.Background())
	assert.ErrorContains(t, err, "failed to cancel subscription")
	assert.False(t, store.Workspace(ws.ID).PendingDeletion)
	assert.Empty(t, q.All())
}

func TestSweeper_UnreachableBillingSkipsExplorer(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := queue.NewMemoryQueue()
	ws := addExplorer(store, "demo", true, now.Add(-48*time.Hour), nil)
	billing := &fakeBilling{err: fmt.Errorf("%w after 10s", timeout.ErrTimedOut)}

	n, err := newSweeper(store, billing, q).RemoveStalledDemos(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, store.Workspace(ws.ID).PendingDeletion)
	assert.Empty(t, q.All())

	// Picked up once billing answers again.
	billing.err = nil
	n, err = newSweeper(store, billing, q).RemoveStalledDemos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.Workspace(ws.ID).PendingDeletion)
}

func TestSweeper_Handlers(t *testing.T) {
	store := memory.NewMemoryStorage()
	s := newSweeper(store, nil, queue.NewMemoryQueue())

	result, err := s.HandleDemos(context.Background(), &queue.Job{})
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 demo explorers.", result)

	result, err = s.HandleExpired(context.Background(), &queue.Job{})
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 expired explorers.", result)
}
