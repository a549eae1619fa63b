package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/explorer/internal/core/amount"
	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/core/timeout"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// BalancesPayload of a processTokenTransfer job.
type BalancesPayload struct {
	TokenTransferID int64 `json:"tokenTransferId"`
}

// BalanceNode reads historical balances from a workspace node.
type BalanceNode interface {
	GetBalance(ctx context.Context, address string, block int64) (string, error)
	BalanceOf(ctx context.Context, token, holder string, block int64) (string, error)
}

// Dialer returns the node for a workspace RPC endpoint.
type Dialer func(rpcServer string) BalanceNode

// WorkspaceReader loads a workspace.
type WorkspaceReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Workspace, error)
}

// Balances snapshots src and dst balances before and after a transfer.
type Balances struct {
	workspaces WorkspaceReader
	txs        storage.TransactionRepository
	transfers  storage.TokenTransferRepository
	dial       Dialer
	timeout    time.Duration
	log        *slog.Logger
}

// NewBalances creates the processTokenTransfer handler.
func NewBalances(
	workspaces WorkspaceReader,
	txs storage.TransactionRepository,
	transfers storage.TokenTransferRepository,
	dial Dialer,
	rpcTimeout time.Duration,
) *Balances {
	return &Balances{
		workspaces: workspaces,
		txs:        txs,
		transfers:  transfers,
		dial:       dial,
		timeout:    rpcTimeout,
		log:        slog.Default().With("component", "balances"),
	}
}

// Handle implements queue.Handler.
func (b *Balances) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p BalancesPayload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	return b.Run(ctx, p.TokenTransferID)
}

// Run stores the balance changes of one transfer.
func (b *Balances) Run(ctx context.Context, transferID int64) (string, error) {
	if transferID == 0 {
		return "Missing parameter.", nil
	}

	transfer, err := b.transfers.GetByID(ctx, transferID)
	if err != nil {
		return "", fmt.Errorf("failed to load transfer: %w", err)
	}
	if transfer == nil {
		return "Could not find token transfer.", nil
	}

	tx, err := b.txs.GetByID(ctx, transfer.TransactionID)
	if err != nil {
		return "", fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return "", fmt.Errorf("transaction %d of transfer %d not found", transfer.TransactionID, transferID)
	}

	ws, err := b.workspaces.GetByID(ctx, transfer.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}
	if ws == nil {
		return "Could not find workspace.", nil
	}

	node := b.dial(ws.RPCServer)
	var changes []*domain.TokenBalanceChange
	for _, address := range holders(transfer) {
		change, err := timeout.Do(ctx, b.timeout, func(ctx context.Context) (*domain.TokenBalanceChange, error) {
			return b.snapshot(ctx, node, transfer, address, tx.BlockNumber)
		})
		if err != nil {
			if timeout.IsRecoverable(err) {
				b.log.Warn("Balance snapshot unavailable", "transfer_id", transferID, "address", address, "error", err)
				return "Timed out while fetching balances.", nil
			}
			return "", err
		}
		changes = append(changes, change)
	}

	if len(changes) == 0 {
		return "No balances to snapshot.", nil
	}
	if err := b.transfers.SaveBalanceChanges(ctx, changes); err != nil {
		return "", fmt.Errorf("failed to save balance changes: %w", err)
	}
	return fmt.Sprintf("Stored %d balance changes.", len(changes)), nil
}

func (b *Balances) snapshot(
	ctx context.Context,
	node BalanceNode,
	t *domain.TokenTransfer,
	address string,
	block int64,
) (*domain.TokenBalanceChange, error) {
	current, err := balanceAt(ctx, node, t, address, block)
	if err != nil {
		return nil, err
	}
	previous := "0"
	if block > 0 {
		previous, err = balanceAt(ctx, node, t, address, block-1)
		if err != nil {
			return nil, err
		}
	}

	cur, err := amount.Parse(current)
	if err != nil {
		return nil, err
	}
	prev, err := amount.Parse(previous)
	if err != nil {
		return nil, err
	}

	return &domain.TokenBalanceChange{
		WorkspaceID:     t.WorkspaceID,
		TokenTransferID: t.ID,
		Token:           t.Token,
		Address:         address,
		CurrentBalance:  amount.Format(cur),
		PreviousBalance: amount.Format(prev),
		Diff:            amount.Format(cur.Sub(prev)),
	}, nil
}

func balanceAt(ctx context.Context, node BalanceNode, t *domain.TokenTransfer, address string, block int64) (string, error) {
	if t.IsNative() {
		return node.GetBalance(ctx, address, block)
	}
	return node.BalanceOf(ctx, t.Token, address, block)
}

// holders returns the distinct non-zero parties of a transfer.
func holders(t *domain.TokenTransfer) []string {
	var result []string
	for _, address := range []string{t.Src, t.Dst} {
		if address == "" || address == domain.ZeroAddress {
			continue
		}
		if len(result) == 1 && result[0] == address {
			continue
		}
		result = append(result, address)
	}
	return result
}
