package backfill

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage/memory"
)

type fakeBalanceNode struct {
	native map[string]string // address@block -> balance
	erc20  map[string]string // token:address@block -> balance
	hang   bool
}

func (n *fakeBalanceNode) GetBalance(ctx context.Context, address string, block int64) (string, error) {
	if n.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return n.native[fmt.Sprintf("%s@%d", address, block)], nil
}

func (n *fakeBalanceNode) BalanceOf(ctx context.Context, token, holder string, block int64) (string, error) {
	return n.erc20[fmt.Sprintf("%s:%s@%d", token, holder, block)], nil
}

func seedTransfer(t *testing.T, store *memory.MemoryStorage, transfer *domain.TokenTransfer) *domain.TokenTransfer {
	t.Helper()
	ws := store.AddWorkspace(&domain.Workspace{Name: "w", RPCServer: "http://node"})
	tx := &domain.Transaction{Hash: "0x1", From: sender, To: receiver, Value: "0"}
	block := store.AddBlock(&domain.Block{WorkspaceID: ws.ID, Number: 10, Transactions: []*domain.Transaction{tx}})

	transfer.WorkspaceID = ws.ID
	transfer.TransactionID = tx.ID
	created, err := memory.NewTransferRepo(store).CreateWithEvents(context.Background(), block, []*domain.TokenTransfer{transfer})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func newBalances(store *memory.MemoryStorage, node *fakeBalanceNode, d time.Duration) *Balances {
	return NewBalances(
		memory.NewWorkspaceRepo(store),
		memory.NewTxRepo(store),
		memory.NewTransferRepo(store),
		func(string) BalanceNode { return node },
		d,
	)
}

func TestBalances_NativeSnapshot(t *testing.T) {
	store := memory.NewMemoryStorage()
	transfer := seedTransfer(t, store, &domain.TokenTransfer{
		Token: domain.NativeTokenAddress, Src: sender, Dst: receiver, Amount: "40",
	})
	node := &fakeBalanceNode{native: map[string]string{
		sender + "@10":   "60",
		sender + "@9":    "100",
		receiver + "@10": "40",
		receiver + "@9":  "0",
	}}

	result, err := newBalances(store, node, time.Second).Run(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Stored 2 balance changes.", result)

	changes := store.BalanceChanges(transfer.ID)
	require.Len(t, changes, 2)

	byAddress := map[string]*domain.TokenBalanceChange{}
	for _, c := range changes {
		byAddress[c.Address] = c
	}
	assert.Equal(t, "-40", byAddress[sender].Diff)
	assert.Equal(t, "100", byAddress[sender].PreviousBalance)
	assert.Equal(t, "40", byAddress[receiver].Diff)
	assert.Equal(t, "40", byAddress[receiver].CurrentBalance)
}

func TestBalances_ERC20SkipsZeroAddress(t *testing.T) {
	store := memory.NewMemoryStorage()
	token := "0x00000000000000000000000000000000000000e2"
	transfer := seedTransfer(t, store, &domain.TokenTransfer{
		Token: token, Src: domain.ZeroAddress, Dst: receiver, Amount: "5",
	})
	node := &fakeBalanceNode{erc20: map[string]string{
		token + ":" + receiver + "@10": "0x5",
	}}

	_, err := newBalances(store, node, time.Second).Run(context.Background(), transfer.ID)
	require.NoError(t, err)

	changes := store.BalanceChanges(transfer.ID)
	require.Len(t, changes, 1)
	assert.Equal(t, receiver, changes[0].Address)
	assert.Equal(t, "5", changes[0].CurrentBalance)
	assert.Equal(t, "0", changes[0].PreviousBalance)
}

func TestBalances_TimeoutIsSoft(t *testing.T) {
	store := memory.NewMemoryStorage()
	transfer := seedTransfer(t, store, &domain.TokenTransfer{
		Token: domain.NativeTokenAddress, Src: sender, Dst: receiver, Amount: "1",
	})

	result, err := newBalances(store, &fakeBalanceNode{hang: true}, 20*time.Millisecond).Run(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Timed out while fetching balances.", result)
	assert.Empty(t, store.BalanceChanges(transfer.ID))
}

func TestBalances_UnknownTransfer(t *testing.T) {
	store := memory.NewMemoryStorage()
	result, err := newBalances(store, &fakeBalanceNode{}, time.Second).Run(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, "Could not find token transfer.", result)
}
