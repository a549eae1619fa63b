package trace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// emptyCodeHash is the hash of an address without code.
var emptyCodeHash = crypto.Keccak256Hash(nil).Hex()

// WorkspaceReader loads a workspace with its billing relations.
type WorkspaceReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Workspace, error)
}

// Persister links parsed steps to contract stubs and stores them.
type Persister struct {
	workspaces WorkspaceReader
	traces     storage.TraceRepository
	log        *slog.Logger
}

// NewPersister creates a trace persister.
func NewPersister(workspaces WorkspaceReader, traces storage.TraceRepository) *Persister {
	return &Persister{
		workspaces: workspaces,
		traces:     traces,
		log:        slog.Default().With("component", "trace"),
	}
}

// Process stores the steps of a transaction. Contract stubs are only created
// while the workspace is allowed to sync; the steps themselves are always saved.
func (p *Persister) Process(ctx context.Context, workspaceID int64, txHash string, steps []*domain.TraceStep) error {
	ws, err := p.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws == nil {
		return fmt.Errorf("workspace %d not found", workspaceID)
	}

	if ws.CanSync() {
		for _, step := range steps {
			if step.Address == "" || step.ContractHashedBytecode == "" || step.ContractHashedBytecode == emptyCodeHash {
				continue
			}
			id, err := p.traces.UpsertContract(ctx, workspaceID, step.Address, step.ContractHashedBytecode)
			if err != nil {
				return fmt.Errorf("failed to upsert contract %s: %w", step.Address, err)
			}
			step.ContractID = &id
		}
	} else {
		p.log.Debug("Skipping contract linking, workspace cannot sync", "workspace_id", workspaceID, "tx", txHash)
	}

	if err := p.traces.SaveSteps(ctx, workspaceID, txHash, steps); err != nil {
		return fmt.Errorf("failed to save trace steps: %w", err)
	}
	return nil
}
