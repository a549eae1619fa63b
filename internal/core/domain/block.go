package domain

import "time"

// Block is a block stored for a workspace. IsReady stays false while its
// transactions are still being written.
type Block struct {
	ID            int64
	WorkspaceID   int64
	Number        int64
	Hash          string
	Timestamp     time.Time
	Miner         string
	BaseFeePerGas string // empty before London
	IsReady       bool
	CreatedAt     time.Time

	Transactions []*Transaction
}

// HasSyncingTransactions reports whether any loaded transaction is still partially written.
func (b *Block) HasSyncingTransactions() bool {
	for _, tx := range b.Transactions {
		if tx.IsSyncing {
			return true
		}
	}
	return false
}

// BlockHeader is the subset of a remote block needed to compare against local state.
type BlockHeader struct {
	Number    int64
	Hash      string
	Timestamp time.Time
}
