package domain

// Transaction belongs to exactly one block. IsSyncing marks a partial write.
type Transaction struct {
	ID          int64
	WorkspaceID int64
	BlockID     int64
	BlockNumber int64
	Hash        string
	From        string
	To          string // empty for contract creation
	Value       string
	GasPrice    string
	IsSyncing   bool

	Block          *Block
	Receipt        *Receipt
	TraceSteps     []*TraceStep
	TokenTransfers []*TokenTransfer
}

// Receipt holds the execution outcome fields used for transfer reconstruction.
type Receipt struct {
	TransactionID     int64
	GasUsed           string
	EffectiveGasPrice string // empty on pre-1559 nodes
	ContractAddress   string
	Status            int
}
