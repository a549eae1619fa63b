package backfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/storage/memory"
)

const (
	sender   = "0x00000000000000000000000000000000000000f1"
	receiver = "0x00000000000000000000000000000000000000a1"
	miner    = "0x00000000000000000000000000000000000000c0"
)

type fixture struct {
	store *memory.MemoryStorage
	queue *queue.MemoryQueue
	fill  *Transfers
}

func newFixture() *fixture {
	store := memory.NewMemoryStorage()
	q := queue.NewMemoryQueue()
	return &fixture{
		store: store,
		queue: q,
		fill:  NewTransfers(memory.NewTxRepo(store), memory.NewTransferRepo(store), q),
	}
}

func (f *fixture) addTx(block *domain.Block, tx *domain.Transaction) *domain.Transaction {
	ws := f.store.AddWorkspace(&domain.Workspace{Name: "w", RPCServer: "http://node"})
	block.WorkspaceID = ws.ID
	block.Miner = miner
	block.Transactions = []*domain.Transaction{tx}
	f.store.AddBlock(block)
	return tx
}

func rewardOf(transfers []*domain.TokenTransfer) *domain.TokenTransfer {
	for _, t := range transfers {
		if t.IsReward {
			return t
		}
	}
	return nil
}

func TestTransfers_EIP1559Reward(t *testing.T) {
	f := newFixture()
	tx := f.addTx(
		&domain.Block{Number: 10, BaseFeePerGas: "10000000"},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "0",
			Receipt: &domain.Receipt{GasUsed: "1e+18", EffectiveGasPrice: "1000000000000000000"},
		},
	)

	created, err := f.fill.Run(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, created)

	transfers := f.store.TransfersForTransaction(tx.ID)
	require.Len(t, transfers, 1)
	reward := transfers[0]
	assert.True(t, reward.IsReward)
	assert.Equal(t, "999999999990000000000000000000000000", reward.Amount)
	assert.Equal(t, sender, reward.Src)
	assert.Equal(t, miner, reward.Dst)
	assert.Equal(t, domain.NativeTokenAddress, reward.Token)
}

func TestTransfers_LegacyReward(t *testing.T) {
	f := newFixture()
	tx := f.addTx(
		&domain.Block{Number: 10},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "0", GasPrice: "123456789012345678901",
			Receipt: &domain.Receipt{GasUsed: "98765432109876543210"},
		},
	)

	_, err := f.fill.Run(context.Background(), tx.ID)
	require.NoError(t, err)

	reward := rewardOf(f.store.TransfersForTransaction(tx.ID))
	require.NotNil(t, reward)
	assert.Equal(t, "12193263113702179522473403443222511812210", reward.Amount)
}

func TestTransfers_ValueAndContractCreation(t *testing.T) {
	f := newFixture()
	created := "0x00000000000000000000000000000000000000d1"
	tx := f.addTx(
		&domain.Block{Number: 10},
		&domain.Transaction{
			Hash: "0x1", From: sender, Value: "1.5e+18", GasPrice: "0",
			Receipt: &domain.Receipt{GasUsed: "21000", ContractAddress: created},
		},
	)

	ok, err := f.fill.Run(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	transfers := f.store.TransfersForTransaction(tx.ID)
	require.Len(t, transfers, 1)
	assert.False(t, transfers[0].IsReward)
	assert.Equal(t, "1500000000000000000", transfers[0].Amount)
	assert.Equal(t, created, transfers[0].Dst)
}

func TestTransfers_InternalDepthResolution(t *testing.T) {
	f := newFixture()
	a := "0x000000000000000000000000000000000000000a"
	b := "0x000000000000000000000000000000000000000b"
	c := "0x000000000000000000000000000000000000000c"
	d := "0x000000000000000000000000000000000000000d"

	tx := f.addTx(
		&domain.Block{Number: 10},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "0", GasPrice: "0",
			Receipt: &domain.Receipt{GasUsed: "21000"},
			TraceSteps: []*domain.TraceStep{
				{Op: domain.OpCall, Depth: 1, Address: a, Value: "0"},
				{Op: domain.OpCall, Depth: 2, Address: b, Value: "5"},
				{Op: domain.OpCall, Depth: 1, Address: c, Value: "7"},
				{Op: domain.OpStaticCall, Depth: 2, Address: a, Value: "0"},
				{Op: domain.OpCall, Depth: 2, Address: d, Value: "3"},
			},
		},
	)

	_, err := f.fill.Run(context.Background(), tx.ID)
	require.NoError(t, err)

	got := map[string]string{}
	for _, tr := range f.store.TransfersForTransaction(tx.ID) {
		got[tr.Dst] = tr.Src + ":" + tr.Amount
	}
	assert.Equal(t, map[string]string{
		b: a + ":5",
		c: receiver + ":7",
		d: c + ":3",
	}, got)
}

func TestTransfers_RepeatedInternalPaymentsAreKept(t *testing.T) {
	f := newFixture()
	payee := "0x000000000000000000000000000000000000000e"
	tx := f.addTx(
		&domain.Block{Number: 10},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "5", GasPrice: "0",
			Receipt: &domain.Receipt{GasUsed: "21000"},
			TraceSteps: []*domain.TraceStep{
				{Op: domain.OpCall, Depth: 1, Address: payee, Value: "5"},
				{Op: domain.OpCall, Depth: 1, Address: payee, Value: "5"},
			},
		},
	)
	ctx := context.Background()

	_, err := f.fill.Run(ctx, tx.ID)
	require.NoError(t, err)

	var internal []*domain.TokenTransfer
	for _, tr := range f.store.TransfersForTransaction(tx.ID) {
		if tr.IsInternal() {
			internal = append(internal, tr)
		}
	}
	require.Len(t, internal, 2)
	assert.Equal(t, 0, *internal[0].TraceStepPosition)
	assert.Equal(t, 1, *internal[1].TraceStepPosition)
	// Value transfer plus two internal ones.
	assert.Len(t, f.store.Events(), 3)

	again, err := f.fill.Run(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Len(t, f.store.Events(), 3)
}

func TestTransfers_Idempotent(t *testing.T) {
	f := newFixture()
	tx := f.addTx(
		&domain.Block{Number: 10, BaseFeePerGas: "1"},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "100",
			Receipt:    &domain.Receipt{GasUsed: "21000", EffectiveGasPrice: "2"},
			TraceSteps: []*domain.TraceStep{{Op: domain.OpCall, Depth: 1, Address: miner, Value: "4"}},
		},
	)
	ctx := context.Background()

	first, err := f.fill.Run(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, first)
	require.Len(t, f.store.TransfersForTransaction(tx.ID), 3)
	require.Len(t, f.store.Events(), 3)

	second, err := f.fill.Run(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, second)
	assert.Len(t, f.store.TransfersForTransaction(tx.ID), 3)
	assert.Len(t, f.store.Events(), 3)
}

func TestTransfers_NothingToWrite(t *testing.T) {
	f := newFixture()
	tx := f.addTx(
		&domain.Block{Number: 10},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "0", GasPrice: "0",
			Receipt: &domain.Receipt{GasUsed: "21000"},
		},
	)

	created, err := f.fill.Run(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, f.store.Events())
	assert.Empty(t, f.queue.All())
}

func TestTransfers_EnqueuesBalanceSnapshots(t *testing.T) {
	f := newFixture()
	tx := f.addTx(
		&domain.Block{Number: 10},
		&domain.Transaction{
			Hash: "0x1", From: sender, To: receiver, Value: "100", GasPrice: "1",
			Receipt:    &domain.Receipt{GasUsed: "21000"},
			TraceSteps: []*domain.TraceStep{{Op: domain.OpCall, Depth: 1, Address: miner, Value: "4"}},
		},
	)
	ctx := context.Background()

	_, err := f.fill.Run(ctx, tx.ID)
	require.NoError(t, err)

	transfers := f.store.TransfersForTransaction(tx.ID)
	jobs := f.queue.Jobs(queue.TypeProcessTokenTransfer)
	require.Len(t, jobs, len(transfers))
	for i, tr := range transfers {
		assert.Equal(t, BalancesJobName(tr.ID), jobs[i].Name)
	}

	// A rerun re-triggers the hook only for reward and value rows that still
	// have no snapshots.
	rerunQueue := queue.NewMemoryQueue()
	rerun := NewTransfers(memory.NewTxRepo(f.store), memory.NewTransferRepo(f.store), rerunQueue)
	_, err = rerun.Run(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, rerunQueue.Jobs(queue.TypeProcessTokenTransfer), 2)
}

func TestTransfers_Errors(t *testing.T) {
	f := newFixture()
	_, err := f.fill.Run(context.Background(), 404)
	assert.Error(t, err)

	tx := f.addTx(&domain.Block{Number: 1}, &domain.Transaction{Hash: "0x1", From: sender, To: receiver, Value: "1"})
	_, err = f.fill.Run(context.Background(), tx.ID)
	assert.ErrorContains(t, err, "receipt")
}

func TestTransfers_Handle(t *testing.T) {
	f := newFixture()
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.TypeProcessNativeTokenTransfers, TransfersJobName(0), TransfersPayload{}))
	job, err := q.Pop(ctx, queue.TypeProcessNativeTokenTransfers)
	require.NoError(t, err)

	result, err := f.fill.Handle(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "Missing parameter.", result)
}
