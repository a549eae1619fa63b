// Package syncproc keeps each explorer's external sync process in line with
// its subscription, RPC health and quota.
package syncproc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/infra/controller"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// ResultTimedOut is returned when the process controller does not answer in time.
const ResultTimedOut = "Timed out."

// Controller manages sync processes by explorer slug.
type Controller interface {
	Start(ctx context.Context, slug string, workspaceID int64) (*controller.Process, error)
	Find(ctx context.Context, slug string) (*controller.Process, error)
	Delete(ctx context.Context, slug string) error
	Resume(ctx context.Context, slug string, workspaceID int64) (*controller.Process, error)
	Reset(ctx context.Context, slug string, workspaceID int64) (*controller.Process, error)
}

// Payload of an updateExplorerSyncingProcess job.
type Payload struct {
	ExplorerSlug string `json:"explorerSlug"`
	Reset        bool   `json:"reset,omitempty"`
}

// JobName returns the dedup name of an updateExplorerSyncingProcess job.
func JobName(slug string) string {
	return queue.Name(queue.TypeUpdateExplorerSyncingProcess, slug)
}

// Manager reconciles one explorer per call.
type Manager struct {
	explorers storage.ExplorerRepository
	ctrl      Controller
	timeout   time.Duration
	log       *slog.Logger
}

// NewManager creates a manager. Each controller call is bounded by callTimeout.
func NewManager(explorers storage.ExplorerRepository, ctrl Controller, callTimeout time.Duration) *Manager {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Manager{
		explorers: explorers,
		ctrl:      ctrl,
		timeout:   callTimeout,
		log:       slog.Default().With("component", "sync_process"),
	}
}

// Handle implements queue.Handler.
func (m *Manager) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.ExplorerSlug == "" {
		return "Missing parameter.", nil
	}
	return m.Update(ctx, p.ExplorerSlug, p.Reset)
}

// Update applies the first matching rule for the explorer identified by slug.
func (m *Manager) Update(ctx context.Context, slug string, resetRequested bool) (string, error) {
	explorer, err := m.explorers.GetBySlug(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("failed to load explorer: %w", err)
	}

	process, err := m.call(ctx, func(ctx context.Context) (*controller.Process, error) {
		return m.ctrl.Find(ctx, slug)
	})
	if err != nil {
		return m.soft(slug, "find", err)
	}

	s := &state{slug: slug, reset: resetRequested, explorer: explorer, process: process}
	r := decide(s)
	if err := r.then(ctx, m, s); err != nil {
		return m.soft(slug, r.name, err)
	}
	metrics.ProcessActions.WithLabelValues(r.name).Inc()
	if r.name != "unchanged" && r.name != "nothing_to_sync" {
		m.log.Info("Sync process updated", "explorer_slug", slug, "rule", r.name)
	}
	return r.result, nil
}

func (m *Manager) call(
	ctx context.Context,
	fn func(ctx context.Context) (*controller.Process, error),
) (*controller.Process, error) {
	return timeout.Do(ctx, m.timeout, fn)
}

func (m *Manager) soft(slug, step string, err error) (string, error) {
	if timeout.IsRecoverable(err) {
		m.log.Warn("Process controller unreachable", "explorer_slug", slug, "step", step, "error", err)
		return ResultTimedOut, nil
	}
	return "", fmt.Errorf("failed to run %s on sync process: %w", step, err)
}
