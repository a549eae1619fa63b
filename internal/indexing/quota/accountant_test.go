package quota

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage/memory"
)

type usage struct {
	item string
	qty  int64
	key  string
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []usage
	err     error
}

func (f *fakeReporter) SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error) {
	return "si_" + subscriptionID, nil
}

func (f *fakeReporter) ReportUsage(ctx context.Context, itemID string, quantity int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, usage{itemID, quantity, key})
	return nil
}

func seed(t *testing.T, sub *domain.Subscription, txs int) (*memory.MemoryStorage, *domain.Block) {
	t.Helper()
	store := memory.NewMemoryStorage()
	ws := &domain.Workspace{Name: "acme", Public: true}
	if sub != nil {
		ws.Explorer = &domain.Explorer{Slug: "acme", ShouldSync: true, Subscription: sub}
	}
	store.AddWorkspace(ws)
	b := &domain.Block{WorkspaceID: ws.ID, Number: 10, IsReady: true}
	for i := 0; i < txs; i++ {
		b.Transactions = append(b.Transactions, &domain.Transaction{Hash: string(rune('a' + i))})
	}
	return store, store.AddBlock(b)
}

func newAccountant(store *memory.MemoryStorage, r UsageReporter) *Accountant {
	return NewAccountant(
		memory.NewBlockRepo(store),
		memory.NewWorkspaceRepo(store),
		memory.NewSubscriptionRepo(store),
		r,
		0,
	)
}

func meteredSub() *domain.Subscription {
	return &domain.Subscription{
		Status:   domain.SubscriptionActive,
		StripeID: "sub_1",
		Plan:     &domain.Plan{Slug: "pay-as-you-go", Capabilities: domain.PlanCapabilities{Billing: domain.BillingMetered}},
	}
}

func TestAccountant_MeteredPlanReportsWithBlockKey(t *testing.T) {
	sub := meteredSub()
	store, b := seed(t, sub, 3)
	r := &fakeReporter{}

	result, err := newAccountant(store, r).OnBlockReady(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reported 3 transactions.", result)
	assert.Equal(t, int64(3), store.Workspace(1).Explorer.Subscription.TransactionCount)
	require.Len(t, r.reports, 1)
	assert.Equal(t, usage{"si_sub_1", 3, strconv.FormatInt(b.ID, 10)}, r.reports[0])
}

func TestAccountant_FlatPlanOnlyCounts(t *testing.T) {
	sub := &domain.Subscription{Status: domain.SubscriptionTrial, Plan: &domain.Plan{Slug: "team"}}
	store, b := seed(t, sub, 2)
	r := &fakeReporter{}

	result, err := newAccountant(store, r).OnBlockReady(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Counted 2 transactions.", result)
	assert.Equal(t, int64(2), store.Workspace(1).Explorer.Subscription.TransactionCount)
	assert.Empty(t, r.reports)
}

func TestAccountant_NoOps(t *testing.T) {
	cases := []struct {
		name string
		sub  *domain.Subscription
		txs  int
		want string
	}{
		{"empty block", meteredSub(), 0, "Empty block."},
		{"no explorer", nil, 2, "No explorer."},
		{"canceled", &domain.Subscription{Status: domain.SubscriptionCanceled}, 2, "No active subscription."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, b := seed(t, tc.sub, tc.txs)
			r := &fakeReporter{}
			result, err := newAccountant(store, r).OnBlockReady(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result)
			assert.Empty(t, r.reports)
		})
	}
}

func TestAccountant_ReporterFailures(t *testing.T) {
	store, b := seed(t, meteredSub(), 1)
	r := &fakeReporter{err: errors.New("Post \"https://api.stripe.com\": dial tcp: connection refused")}

	result, err := newAccountant(store, r).OnBlockReady(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Timed out while reporting usage.", result)

	r.err = errors.New("invalid subscription item")
	_, err = newAccountant(store, r).OnBlockReady(context.Background(), b.ID)
	assert.ErrorContains(t, err, "failed to report usage")
}

func TestAccountant_RetryAfterReportFailureCountsOnce(t *testing.T) {
	store, b := seed(t, meteredSub(), 4)
	r := &fakeReporter{err: errors.New("invalid subscription item")}
	a := newAccountant(store, r)

	_, err := a.OnBlockReady(context.Background(), b.ID)
	require.Error(t, err)
	assert.Zero(t, store.Workspace(1).Explorer.Subscription.TransactionCount)

	r.err = nil
	result, err := a.OnBlockReady(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reported 4 transactions.", result)
	assert.Equal(t, int64(4), store.Workspace(1).Explorer.Subscription.TransactionCount)
	assert.Len(t, r.reports, 1)
}

func TestAccountant_Handle(t *testing.T) {
	store, _ := seed(t, meteredSub(), 1)
	a := newAccountant(store, nil)

	result, err := a.Handle(context.Background(), &queue.Job{Data: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "Missing parameter.", result)

	result, err = a.Handle(context.Background(), &queue.Job{Data: []byte(`{"blockId":999}`)})
	require.NoError(t, err)
	assert.Equal(t, "Could not find block.", result)
}
