package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// ResetPayload of a workspaceReset job. Blocks with timestamps in [From, To] are deleted.
type ResetPayload struct {
	WorkspaceID int64     `json:"workspaceId"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
}

// DeletePayload of a deleteWorkspace job.
type DeletePayload struct {
	WorkspaceID int64 `json:"workspaceId"`
}

// ResetJobName returns the dedup name of a workspaceReset job.
func ResetJobName(workspaceID int64, from, to time.Time) string {
	return queue.Name(queue.TypeWorkspaceReset, workspaceID, from.Unix(), to.Unix())
}

// DeleteJobName returns the dedup name of a deleteWorkspace job.
func DeleteJobName(workspaceID int64) string {
	return queue.Name(queue.TypeDeleteWorkspace, workspaceID)
}

// Wiper handles workspaceReset and deleteWorkspace.
type Wiper struct {
	workspaces storage.WorkspaceRepository
	blocks     storage.BlockRepository
	batchSize  int
	log        *slog.Logger
}

// NewWiper creates a wiper that deletes blocks batchSize at a time.
func NewWiper(workspaces storage.WorkspaceRepository, blocks storage.BlockRepository, batchSize int) *Wiper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Wiper{
		workspaces: workspaces,
		blocks:     blocks,
		batchSize:  batchSize,
		log:        slog.Default().With("component", "wiper"),
	}
}

// HandleReset implements queue.Handler for workspaceReset.
func (w *Wiper) HandleReset(ctx context.Context, job *queue.Job) (string, error) {
	var p ResetPayload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.WorkspaceID == 0 || p.To.IsZero() {
		return "Missing parameter.", nil
	}
	n, err := deleteInBatches(ctx, w.blocks, p.WorkspaceID, p.From, p.To, w.batchSize)
	if err != nil {
		return "", fmt.Errorf("failed to reset workspace %d: %w", p.WorkspaceID, err)
	}
	w.log.Info("Workspace reset", "workspace_id", p.WorkspaceID, "deleted_blocks", n)
	return fmt.Sprintf("Deleted %d blocks.", n), nil
}

// HandleDelete implements queue.Handler for deleteWorkspace.
func (w *Wiper) HandleDelete(ctx context.Context, job *queue.Job) (string, error) {
	var p DeletePayload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.WorkspaceID == 0 {
		return "Missing parameter.", nil
	}
	ws, err := w.workspaces.GetByID(ctx, p.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws == nil {
		return "Could not find workspace.", nil
	}
	if !ws.PendingDeletion {
		return "Workspace is not pending deletion.", nil
	}
	if err := w.workspaces.Delete(ctx, ws.ID); err != nil {
		return "", err
	}
	w.log.Info("Workspace deleted", "workspace_id", ws.ID)
	return "Workspace deleted.", nil
}
