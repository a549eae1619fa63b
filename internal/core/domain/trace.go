package domain

// Opcodes kept by the trace parser.
const (
	OpCall         = "CALL"
	OpCallCode     = "CALLCODE"
	OpDelegateCall = "DELEGATECALL"
	OpStaticCall   = "STATICCALL"
	OpCreate       = "CREATE"
	OpCreate2      = "CREATE2"
)

// IsCallOp reports whether op belongs to the CALL family.
func IsCallOp(op string) bool {
	switch op {
	case OpCall, OpCallCode, OpDelegateCall, OpStaticCall:
		return true
	}
	return false
}

// IsCreateOp reports whether op belongs to the CREATE family.
func IsCreateOp(op string) bool {
	return op == OpCreate || op == OpCreate2
}

// StructLog is one raw per-opcode record returned by debug_traceTransaction.
// Stack is ordered bottom to top; Memory is a list of 32-byte hex words.
type StructLog struct {
	PC      uint64   `json:"pc"`
	Op      string   `json:"op"`
	Gas     uint64   `json:"gas"`
	GasCost uint64   `json:"gasCost"`
	Depth   int      `json:"depth"`
	Stack   []string `json:"stack"`
	Memory  []string `json:"memory"`
}

// TraceStep is a parsed CALL or CREATE sub-operation, in execution order.
type TraceStep struct {
	ID                     int64
	TransactionID          int64
	WorkspaceID            int64
	Position               int
	Op                     string
	Depth                  int
	Address                string
	Value                  string
	Input                  string
	ContractHashedBytecode string
	ContractID             *int64
}

// Contract is the minimal stub linked from trace steps.
type Contract struct {
	ID             int64
	WorkspaceID    int64
	Address        string
	HashedBytecode string
}
