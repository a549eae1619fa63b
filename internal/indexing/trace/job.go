package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/infra/queue"
)

// Node is the subset of the workspace RPC client used for traces.
type Node interface {
	TraceTransaction(ctx context.Context, hash string) ([]domain.StructLog, error)
	GetCode(ctx context.Context, address string) (string, error)
}

// Dialer returns the node for a workspace RPC endpoint.
type Dialer func(rpcServer string) Node

// TransactionReader finds a stored transaction by hash.
type TransactionReader interface {
	GetByHash(ctx context.Context, workspaceID int64, hash string) (*domain.Transaction, error)
}

// Payload of a processTransactionTrace job.
type Payload struct {
	WorkspaceID     int64  `json:"workspaceId"`
	TransactionHash string `json:"transactionHash"`
}

// JobName returns the dedup name of a processTransactionTrace job.
func JobName(workspaceID int64, hash string) string {
	return queue.Name(queue.TypeProcessTransactionTrace, workspaceID, hash)
}

// Job fetches, parses and stores the trace of one transaction.
type Job struct {
	workspaces WorkspaceReader
	txs        TransactionReader
	persister  *Persister
	dial       Dialer
	timeout    time.Duration
	log        *slog.Logger
}

// NewJob creates the processTransactionTrace handler.
func NewJob(
	workspaces WorkspaceReader,
	txs TransactionReader,
	persister *Persister,
	dial Dialer,
	traceTimeout time.Duration,
) *Job {
	return &Job{
		workspaces: workspaces,
		txs:        txs,
		persister:  persister,
		dial:       dial,
		timeout:    traceTimeout,
		log:        slog.Default().With("component", "trace"),
	}
}

// Handle implements queue.Handler.
func (j *Job) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	return j.Run(ctx, p.WorkspaceID, p.TransactionHash)
}

// Run processes the trace of a transaction.
func (j *Job) Run(ctx context.Context, workspaceID int64, hash string) (string, error) {
	if workspaceID == 0 || hash == "" {
		return "Missing parameter.", nil
	}

	ws, err := j.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws == nil {
		return "Could not find workspace.", nil
	}

	tx, err := j.txs.GetByHash(ctx, workspaceID, hash)
	if err != nil {
		return "", fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return "", fmt.Errorf("transaction %s not found in workspace %d", hash, workspaceID)
	}

	// Code at depth 1 runs at the callee, or at the new contract for deployments.
	from := tx.To
	if from == "" && tx.Receipt != nil {
		from = tx.Receipt.ContractAddress
	}

	node := j.dial(ws.RPCServer)
	steps, err := timeout.Do(ctx, j.timeout, func(ctx context.Context) ([]*domain.TraceStep, error) {
		logs, err := node.TraceTransaction(ctx, hash)
		if err != nil {
			return nil, err
		}
		return Parse(ctx, from, logs, node.GetCode)
	})
	if err != nil {
		if timeout.IsRecoverable(err) {
			j.log.Warn("Trace unavailable", "workspace_id", workspaceID, "tx", hash, "error", err)
			return "Timed out while fetching trace.", nil
		}
		return "", fmt.Errorf("failed to trace transaction %s: %w", hash, err)
	}

	if err := j.persister.Process(ctx, workspaceID, hash, steps); err != nil {
		return "", err
	}
	return fmt.Sprintf("Stored %d trace steps.", len(steps)), nil
}
