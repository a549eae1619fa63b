package domain

import "time"

// NativeTokenAddress is the pseudo-token that stands for the chain's native currency.
const NativeTokenAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// ZeroAddress is used as mint/burn counterparty and never gets balance snapshots.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TokenTransfer moves Amount of Token from Src to Dst within a transaction.
type TokenTransfer struct {
	ID            int64
	WorkspaceID   int64
	TransactionID int64
	Token         string
	Src           string
	Dst           string
	Amount        string
	IsReward      bool

	// TraceStepPosition is set for internal transfers and names the trace
	// step that moved the value.
	TraceStepPosition *int

	BalanceChanges []*TokenBalanceChange
}

// IsInternal reports whether the transfer came from a trace step.
func (t *TokenTransfer) IsInternal() bool {
	return t.TraceStepPosition != nil
}

// IsNative reports whether the transfer is denominated in native currency.
func (t *TokenTransfer) IsNative() bool {
	return t.Token == NativeTokenAddress
}

// TokenTransferEvent mirrors a TokenTransfer for time-series reads.
type TokenTransferEvent struct {
	ID              int64
	WorkspaceID     int64
	TokenTransferID int64
	BlockNumber     int64
	Timestamp       time.Time
	Token           string
	TokenType       string
	Src             string
	Dst             string
	Amount          string
}

// NewTokenTransferEvent builds the read-model row for a freshly inserted transfer.
func NewTokenTransferEvent(t *TokenTransfer, block *Block) *TokenTransferEvent {
	tokenType := "erc20"
	if t.IsNative() {
		tokenType = "native"
	}
	return &TokenTransferEvent{
		WorkspaceID:     t.WorkspaceID,
		TokenTransferID: t.ID,
		BlockNumber:     block.Number,
		Timestamp:       block.Timestamp,
		Token:           t.Token,
		TokenType:       tokenType,
		Src:             t.Src,
		Dst:             t.Dst,
		Amount:          t.Amount,
	}
}

// TokenBalanceChange is a balance snapshot of one address around a transfer.
type TokenBalanceChange struct {
	ID              int64
	WorkspaceID     int64
	TokenTransferID int64
	Token           string
	Address         string
	CurrentBalance  string
	PreviousBalance string
	Diff            string
}
