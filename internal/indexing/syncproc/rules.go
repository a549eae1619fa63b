package syncproc

import (
	"context"
	"errors"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/controller"
)

// state is everything the decision table looks at.
type state struct {
	slug     string
	reset    bool
	explorer *domain.Explorer
	process  *controller.Process
}

func (s *state) workspaceID() int64 {
	if s.explorer == nil {
		return 0
	}
	return s.explorer.WorkspaceID
}

func (s *state) rpcUnreachable() bool {
	if s.explorer == nil || s.explorer.Workspace == nil {
		return false
	}
	h := s.explorer.Workspace.RPCHealthCheck
	return h != nil && !h.IsReachable
}

type action func(ctx context.Context, m *Manager, s *state) error

// rule is one row of the decision table. The first rule whose when holds wins.
type rule struct {
	name   string
	result string
	when   func(s *state) bool
	then   action
}

func noop(context.Context, *Manager, *state) error { return nil }

func reset(ctx context.Context, m *Manager, s *state) error {
	_, err := m.call(ctx, func(ctx context.Context) (*controller.Process, error) {
		return m.ctrl.Reset(ctx, s.slug, s.workspaceID())
	})
	return err
}

// remove tolerates a process that is already gone.
func remove(ctx context.Context, m *Manager, s *state) error {
	_, err := m.call(ctx, func(ctx context.Context) (*controller.Process, error) {
		return nil, m.ctrl.Delete(ctx, s.slug)
	})
	if errors.Is(err, controller.ErrNotFound) {
		return nil
	}
	return err
}

func removeIfRunning(ctx context.Context, m *Manager, s *state) error {
	if s.process == nil {
		return nil
	}
	return remove(ctx, m, s)
}

func start(ctx context.Context, m *Manager, s *state) error {
	_, err := m.call(ctx, func(ctx context.Context) (*controller.Process, error) {
		return m.ctrl.Start(ctx, s.slug, s.workspaceID())
	})
	return err
}

func resume(ctx context.Context, m *Manager, s *state) error {
	_, err := m.call(ctx, func(ctx context.Context) (*controller.Process, error) {
		return m.ctrl.Resume(ctx, s.slug, s.workspaceID())
	})
	return err
}

var rules = []rule{
	{
		name:   "reset",
		result: "Process reset.",
		when:   func(s *state) bool { return s.reset && s.explorer != nil },
		then:   reset,
	},
	{
		// No workspace to reset onto; any leftover process goes.
		name:   "reset_without_explorer",
		result: "Reset requested but explorer not found.",
		when:   func(s *state) bool { return s.reset },
		then:   removeIfRunning,
	},
	{
		name:   "explorer_gone",
		result: "Process deleted: no explorer.",
		when:   func(s *state) bool { return s.explorer == nil && s.process != nil },
		then:   remove,
	},
	{
		name:   "nothing_to_sync",
		result: "No process and no explorer.",
		when:   func(s *state) bool { return s.explorer == nil },
		then:   noop,
	},
	{
		name:   "no_subscription",
		result: "Process deleted: no active subscription.",
		when:   func(s *state) bool { return !s.explorer.Subscription.IsActive() },
		then:   remove,
	},
	{
		name:   "rpc_unreachable",
		result: "Process deleted: RPC is not reachable.",
		when:   func(s *state) bool { return s.rpcUnreachable() && s.process != nil },
		then:   remove,
	},
	{
		name:   "sync_disabled",
		result: "Process deleted: sync is disabled.",
		when:   func(s *state) bool { return !s.explorer.ShouldSync && s.process != nil },
		then:   remove,
	},
	{
		name:   "quota_reached",
		result: "Process deleted: transaction quota reached.",
		when:   func(s *state) bool { return s.explorer.Subscription.QuotaReached() },
		then:   remove,
	},
	{
		name:   "start",
		result: "Process started.",
		when:   func(s *state) bool { return s.explorer.ShouldSync && s.process == nil },
		then:   start,
	},
	{
		name:   "resume",
		result: "Process resumed.",
		when:   func(s *state) bool { return s.explorer.ShouldSync && s.process.Stopped() },
		then:   resume,
	},
	{
		name:   "unchanged",
		result: "No process change.",
		when:   func(*state) bool { return true },
		then:   noop,
	},
}

// decide returns the first matching rule.
func decide(s *state) rule {
	for _, r := range rules {
		if r.when(s) {
			return r
		}
	}
	return rules[len(rules)-1]
}
