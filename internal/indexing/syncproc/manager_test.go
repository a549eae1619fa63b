package syncproc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/controller"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage/memory"
)

type fakeController struct {
	mu      sync.Mutex
	process *controller.Process
	calls   []string
	err     error
	hang    bool
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Start(ctx context.Context, slug string, workspaceID int64) (*controller.Process, error) {
	return &controller.Process{Name: slug, Status: controller.StatusOnline}, f.record("start")
}

func (f *fakeController) Find(ctx context.Context, slug string) (*controller.Process, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.process, nil
}

func (f *fakeController) Delete(ctx context.Context, slug string) error {
	return f.record("delete")
}

func (f *fakeController) Resume(ctx context.Context, slug string, workspaceID int64) (*controller.Process, error) {
	return &controller.Process{Name: slug, Status: controller.StatusOnline}, f.record("resume")
}

func (f *fakeController) Reset(ctx context.Context, slug string, workspaceID int64) (*controller.Process, error) {
	return &controller.Process{Name: slug, Status: controller.StatusOnline}, f.record("reset")
}

func online() *controller.Process {
	return &controller.Process{Name: "acme", Status: controller.StatusOnline}
}

func stopped() *controller.Process {
	return &controller.Process{Name: "acme", Status: controller.StatusStopped}
}

// healthy is an explorer that matches no deleting rule.
func healthy() *domain.Workspace {
	return &domain.Workspace{
		Name:           "acme",
		Public:         true,
		RPCHealthCheck: &domain.RPCHealthCheck{IsReachable: true},
		Explorer: &domain.Explorer{
			Slug:         "acme",
			ShouldSync:   true,
			Subscription: &domain.Subscription{Status: domain.SubscriptionActive, TransactionQuota: 100, TransactionCount: 10},
		},
	}
}

func TestManager_Rules(t *testing.T) {
	cases := []struct {
		name    string
		ws      func() *domain.Workspace
		process *controller.Process
		reset   bool
		want    string
		calls   []string
	}{
		{
			name:    "reset requested",
			ws:      healthy,
			process: online(),
			reset:   true,
			want:    "Process reset.",
			calls:   []string{"reset"},
		},
		{
			name:    "reset requested for missing explorer",
			ws:      func() *domain.Workspace { return nil },
			process: online(),
			reset:   true,
			want:    "Reset requested but explorer not found.",
			calls:   []string{"delete"},
		},
		{
			name:  "reset requested with nothing running",
			ws:    func() *domain.Workspace { return nil },
			reset: true,
			want:  "Reset requested but explorer not found.",
		},
		{
			name:    "explorer gone with process",
			ws:      func() *domain.Workspace { return nil },
			process: online(),
			want:    "Process deleted: no explorer.",
			calls:   []string{"delete"},
		},
		{
			name: "explorer gone without process",
			ws:   func() *domain.Workspace { return nil },
			want: "No process and no explorer.",
		},
		{
			name: "no active subscription",
			ws: func() *domain.Workspace {
				ws := healthy()
				ws.Explorer.Subscription.Status = domain.SubscriptionCanceled
				return ws
			},
			process: online(),
			want:    "Process deleted: no active subscription.",
			calls:   []string{"delete"},
		},
		{
			name: "rpc unreachable",
			ws: func() *domain.Workspace {
				ws := healthy()
				ws.RPCHealthCheck.IsReachable = false
				return ws
			},
			process: online(),
			want:    "Process deleted: RPC is not reachable.",
			calls:   []string{"delete"},
		},
		{
			name: "sync disabled",
			ws: func() *domain.Workspace {
				ws := healthy()
				ws.Explorer.ShouldSync = false
				return ws
			},
			process: stopped(),
			want:    "Process deleted: sync is disabled.",
			calls:   []string{"delete"},
		},
		{
			name: "quota reached",
			ws: func() *domain.Workspace {
				ws := healthy()
				ws.Explorer.Subscription.TransactionCount = 100
				return ws
			},
			want:  "Process deleted: transaction quota reached.",
			calls: []string{"delete"},
		},
		{
			name:  "start",
			ws:    healthy,
			want:  "Process started.",
			calls: []string{"start"},
		},
		{
			name:    "resume",
			ws:      healthy,
			process: stopped(),
			want:    "Process resumed.",
			calls:   []string{"resume"},
		},
		{
			name:    "unchanged",
			ws:      healthy,
			process: online(),
			want:    "No process change.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewMemoryStorage()
			if ws := tc.ws(); ws != nil {
				store.AddWorkspace(ws)
			}
			ctrl := &fakeController{process: tc.process}
			m := NewManager(memory.NewExplorerRepo(store), ctrl, time.Second)

			result, err := m.Update(context.Background(), "acme", tc.reset)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result)
			assert.Equal(t, tc.calls, ctrl.calls)
		})
	}
}

func TestRules_Order(t *testing.T) {
	var names []string
	for _, r := range rules {
		names = append(names, r.name)
	}
	assert.Equal(t, []string{
		"reset", "reset_without_explorer", "explorer_gone", "nothing_to_sync", "no_subscription", "rpc_unreachable",
		"sync_disabled", "quota_reached", "start", "resume", "unchanged",
	}, names)
}

func TestManager_DeleteOfMissingProcessIsFine(t *testing.T) {
	store := memory.NewMemoryStorage()
	ws := healthy()
	ws.Explorer.Subscription = nil
	store.AddWorkspace(ws)
	ctrl := &fakeController{err: controller.ErrNotFound}

	result, err := NewManager(memory.NewExplorerRepo(store), ctrl, time.Second).Update(context.Background(), "acme", false)
	require.NoError(t, err)
	assert.Equal(t, "Process deleted: no active subscription.", result)
}

func TestManager_TimeoutIsSoft(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.AddWorkspace(healthy())
	ctrl := &fakeController{hang: true}

	result, err := NewManager(memory.NewExplorerRepo(store), ctrl, 20*time.Millisecond).Update(context.Background(), "acme", false)
	require.NoError(t, err)
	assert.Equal(t, ResultTimedOut, result)
}

func TestManager_UnexpectedErrorPropagates(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.AddWorkspace(healthy())
	ctrl := &fakeController{err: errors.New("http 500: boom")}

	_, err := NewManager(memory.NewExplorerRepo(store), ctrl, time.Second).Update(context.Background(), "acme", false)
	assert.ErrorContains(t, err, "failed to run start on sync process")
}

func TestManager_Handle(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.AddWorkspace(healthy())
	ctrl := &fakeController{process: online()}
	m := NewManager(memory.NewExplorerRepo(store), ctrl, time.Second)

	result, err := m.Handle(context.Background(), &queue.Job{Data: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "Missing parameter.", result)

	result, err = m.Handle(context.Background(), &queue.Job{Data: []byte(`{"explorerSlug":"acme","reset":true}`)})
	require.NoError(t, err)
	assert.Equal(t, "Process reset.", result)
	assert.Equal(t, "updateExplorerSyncingProcess-acme", JobName("acme"))
}
