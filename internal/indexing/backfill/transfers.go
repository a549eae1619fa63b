// Package backfill rebuilds native currency transfers from a transaction's
// receipt and trace, and snapshots balances around every new transfer.
package backfill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vietddude/explorer/internal/core/amount"
	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/indexing/metrics"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// TransfersPayload of a processNativeTokenTransfers job.
type TransfersPayload struct {
	TransactionID int64 `json:"transactionId"`
}

// TransfersJobName returns the dedup name of a processNativeTokenTransfers job.
func TransfersJobName(transactionID int64) string {
	return queue.Name(queue.TypeProcessNativeTokenTransfers, transactionID)
}

// BalancesJobName returns the dedup name of a processTokenTransfer job.
func BalancesJobName(transferID int64) string {
	return queue.Name(queue.TypeProcessTokenTransfer, transferID)
}

// Transfers derives reward, value and internal native transfers.
type Transfers struct {
	txs       storage.TransactionRepository
	transfers storage.TokenTransferRepository
	queue     queue.Enqueuer
	log       *slog.Logger
}

// NewTransfers creates the native transfer backfill.
func NewTransfers(
	txs storage.TransactionRepository,
	transfers storage.TokenTransferRepository,
	q queue.Enqueuer,
) *Transfers {
	return &Transfers{
		txs:       txs,
		transfers: transfers,
		queue:     q,
		log:       slog.Default().With("component", "native_transfers"),
	}
}

// Handle implements queue.Handler.
func (b *Transfers) Handle(ctx context.Context, job *queue.Job) (string, error) {
	var p TransfersPayload
	if err := job.Decode(&p); err != nil {
		return "", &queue.PayloadError{Err: err}
	}
	if p.TransactionID == 0 {
		return "Missing parameter.", nil
	}
	created, err := b.Run(ctx, p.TransactionID)
	if err != nil {
		return "", err
	}
	if !created {
		return "No new transfers.", nil
	}
	return "Native transfers created.", nil
}

// Run creates the missing native transfers of a transaction and reports
// whether any row was written. Safe to run repeatedly.
func (b *Transfers) Run(ctx context.Context, transactionID int64) (bool, error) {
	tx, err := b.txs.GetForTransferBackfill(ctx, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return false, fmt.Errorf("transaction %d not found", transactionID)
	}
	if tx.Block == nil {
		return false, fmt.Errorf("block of transaction %d not found", transactionID)
	}
	if tx.Receipt == nil {
		return false, fmt.Errorf("receipt of transaction %d not stored yet", transactionID)
	}

	var (
		pending  []*domain.TokenTransfer
		existing []*domain.TokenTransfer // found but missing balance snapshots
	)

	reward, err := b.reward(tx)
	if err != nil {
		return false, err
	}
	if reward != nil {
		if found := findReward(tx.TokenTransfers); found != nil {
			existing = append(existing, found)
		} else {
			pending = append(pending, reward)
		}
	}

	value, err := b.value(tx)
	if err != nil {
		return false, err
	}
	if value != nil {
		if found := findByAmount(tx.TokenTransfers, value.Amount); found != nil {
			existing = append(existing, found)
		} else {
			pending = append(pending, value)
		}
	}

	internal, err := b.internal(tx)
	if err != nil {
		return false, err
	}
	for _, t := range internal {
		if findStep(tx.TokenTransfers, *t.TraceStepPosition) == nil {
			pending = append(pending, t)
		}
	}

	for _, t := range existing {
		if len(t.BalanceChanges) > 0 {
			continue
		}
		if err := b.enqueueBalances(ctx, t.ID); err != nil {
			return false, err
		}
	}

	if len(pending) == 0 {
		return false, nil
	}

	created, err := b.transfers.CreateWithEvents(ctx, tx.Block, pending)
	if err != nil {
		return false, fmt.Errorf("failed to create native transfers: %w", err)
	}

	for _, t := range created {
		kind := "transfer"
		if t.IsReward {
			kind = "reward"
		}
		metrics.TransfersCreated.WithLabelValues(kind).Inc()

		if err := b.enqueueBalances(ctx, t.ID); err != nil {
			return false, err
		}
	}

	b.log.Debug("Native transfers backfilled",
		"transaction_id", tx.ID,
		"candidates", len(pending),
		"created", len(created),
	)
	return len(created) > 0, nil
}

func (b *Transfers) enqueueBalances(ctx context.Context, transferID int64) error {
	err := b.queue.Enqueue(ctx, queue.TypeProcessTokenTransfer, BalancesJobName(transferID),
		BalancesPayload{TokenTransferID: transferID})
	if err != nil {
		return fmt.Errorf("failed to enqueue balance snapshot: %w", err)
	}
	return nil
}

// reward pays the block producer the priority fee. Before London the whole
// gas price goes to the miner.
func (b *Transfers) reward(tx *domain.Transaction) (*domain.TokenTransfer, error) {
	gasUsed, err := amount.Parse(tx.Receipt.GasUsed)
	if err != nil {
		return nil, err
	}

	var price decimal.Decimal
	if tx.Block.BaseFeePerGas != "" && tx.Receipt.EffectiveGasPrice != "" {
		effective, err := amount.Parse(tx.Receipt.EffectiveGasPrice)
		if err != nil {
			return nil, err
		}
		baseFee, err := amount.Parse(tx.Block.BaseFeePerGas)
		if err != nil {
			return nil, err
		}
		price = effective.Sub(baseFee)
	} else {
		gasPrice := tx.GasPrice
		if gasPrice == "" {
			gasPrice = tx.Receipt.EffectiveGasPrice
		}
		price, err = amount.Parse(gasPrice)
		if err != nil {
			return nil, err
		}
	}

	total := price.Mul(gasUsed)
	if !total.IsPositive() {
		return nil, nil
	}
	return &domain.TokenTransfer{
		WorkspaceID:   tx.WorkspaceID,
		TransactionID: tx.ID,
		Token:         domain.NativeTokenAddress,
		Src:           tx.From,
		Dst:           tx.Block.Miner,
		Amount:        amount.Format(total),
		IsReward:      true,
	}, nil
}

func (b *Transfers) value(tx *domain.Transaction) (*domain.TokenTransfer, error) {
	v, err := amount.Parse(tx.Value)
	if err != nil {
		return nil, err
	}
	if !v.IsPositive() {
		return nil, nil
	}

	dst := tx.To
	if dst == "" {
		dst = tx.Receipt.ContractAddress
	}
	return &domain.TokenTransfer{
		WorkspaceID:   tx.WorkspaceID,
		TransactionID: tx.ID,
		Token:         domain.NativeTokenAddress,
		Src:           tx.From,
		Dst:           dst,
		Amount:        amount.Format(v),
	}, nil
}

// internal turns value-carrying trace steps into transfers. The sender of a
// step at depth d is the callee of the closest earlier step at depth d-1;
// at depth 1 it is the transaction recipient.
func (b *Transfers) internal(tx *domain.Transaction) ([]*domain.TokenTransfer, error) {
	var result []*domain.TokenTransfer
	for i, step := range tx.TraceSteps {
		v, err := amount.Parse(step.Value)
		if err != nil {
			return nil, err
		}
		if !v.IsPositive() {
			continue
		}

		position := step.Position
		result = append(result, &domain.TokenTransfer{
			WorkspaceID:       tx.WorkspaceID,
			TransactionID:     tx.ID,
			Token:             domain.NativeTokenAddress,
			Src:               parentAddress(tx, i),
			Dst:               step.Address,
			Amount:            amount.Format(v),
			TraceStepPosition: &position,
		})
	}
	return result, nil
}

func parentAddress(tx *domain.Transaction, i int) string {
	depth := tx.TraceSteps[i].Depth
	if depth > 1 {
		for j := i - 1; j >= 0; j-- {
			if tx.TraceSteps[j].Depth == depth-1 {
				return tx.TraceSteps[j].Address
			}
		}
	}
	if tx.To == "" && tx.Receipt != nil {
		return tx.Receipt.ContractAddress
	}
	return tx.To
}

func findReward(transfers []*domain.TokenTransfer) *domain.TokenTransfer {
	for _, t := range transfers {
		if t.IsReward {
			return t
		}
	}
	return nil
}

func findByAmount(transfers []*domain.TokenTransfer, value string) *domain.TokenTransfer {
	for _, t := range transfers {
		if !t.IsReward && !t.IsInternal() && amount.Equal(t.Amount, value) {
			return t
		}
	}
	return nil
}

func findStep(transfers []*domain.TokenTransfer, position int) *domain.TokenTransfer {
	for _, t := range transfers {
		if t.IsInternal() && *t.TraceStepPosition == position {
			return t
		}
	}
	return nil
}
