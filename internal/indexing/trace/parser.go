// Package trace turns debug_traceTransaction struct logs into CALL and CREATE
// steps and stores them against the transaction.
package trace

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/explorer/internal/core/domain"
)

// maxInputSize bounds how much memory a single step may copy out.
const maxInputSize = 1 << 24

// lookupConcurrency bounds parallel eth_getCode calls per trace.
const lookupConcurrency = 8

// CodeLookup returns the runtime bytecode deployed at address as 0x hex.
type CodeLookup func(ctx context.Context, address string) (string, error)

// Parse extracts CALL and CREATE family steps from raw struct logs. from is
// the address whose code runs at depth 1 and is used as the CREATE2 sender.
// The logs are never modified; the only side effects are lookup calls.
func Parse(ctx context.Context, from string, logs []domain.StructLog, lookup CodeLookup) ([]*domain.TraceStep, error) {
	var (
		steps   []*domain.TraceStep
		lookups []string // address whose deployed code hash fills steps[i]
	)

	for i := range logs {
		log := &logs[i]
		op := strings.ToUpper(log.Op)

		var (
			step *domain.TraceStep
			err  error
		)
		switch {
		case domain.IsCallOp(op):
			step, err = parseCall(op, log)
		case domain.IsCreateOp(op):
			step, err = parseCreate(op, from, log)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s at pc %d: %w", op, log.PC, err)
		}
		step.Position = len(steps)
		steps = append(steps, step)
		lookups = append(lookups, step.Address)
	}

	if len(steps) == 0 || lookup == nil {
		return steps, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, address := range lookups {
		g.Go(func() error {
			code, err := lookup(gctx, address)
			if err != nil {
				return fmt.Errorf("failed to get code at %s: %w", address, err)
			}
			steps[i].ContractHashedBytecode = HashBytecode(code)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return steps, nil
}

// HashBytecode returns the keccak-256 of hex encoded bytecode.
func HashBytecode(code string) string {
	return crypto.Keccak256Hash(common.FromHex(code)).Hex()
}

// parseCall reads the call target, value and input from the stack snapshot.
// Stack layout from the top: gas, address, [value,] argsOffset, argsSize.
func parseCall(op string, log *domain.StructLog) (*domain.TraceStep, error) {
	withValue := op == domain.OpCall || op == domain.OpCallCode

	need := 4
	if withValue {
		need = 5
	}
	if len(log.Stack) < need {
		return nil, fmt.Errorf("stack has %d items, need %d", len(log.Stack), need)
	}

	top := func(n int) string { return log.Stack[len(log.Stack)-1-n] }

	value := "0"
	argsAt := 2
	if withValue {
		v, err := word(top(2))
		if err != nil {
			return nil, err
		}
		value = v.String()
		argsAt = 3
	}

	input, err := readMemory(log.Memory, top(argsAt), top(argsAt+1))
	if err != nil {
		return nil, err
	}

	return &domain.TraceStep{
		Op:      op,
		Depth:   log.Depth,
		Address: wordToAddress(top(1)),
		Value:   value,
		Input:   "0x" + hex.EncodeToString(input),
	}, nil
}

// parseCreate derives the created contract address from a copy of the stack.
// The CREATE2 formula is used for both CREATE and CREATE2; for CREATE the
// fourth element is not a salt.
func parseCreate(op, from string, log *domain.StructLog) (*domain.TraceStep, error) {
	stack := slices.Clone(log.Stack)
	pop := func() (string, bool) {
		if len(stack) == 0 {
			return "", false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}

	rawValue, ok1 := pop()
	offset, ok2 := pop()
	size, ok3 := pop()
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("stack has %d items, need 3", len(log.Stack))
	}
	salt, ok := pop()
	if !ok {
		salt = "0"
	}

	value, err := word(rawValue)
	if err != nil {
		return nil, err
	}
	initCode, err := readMemory(log.Memory, offset, size)
	if err != nil {
		return nil, err
	}
	saltWord, err := word(salt)
	if err != nil {
		return nil, err
	}

	var saltBytes [32]byte
	saltWord.FillBytes(saltBytes[:])
	address := crypto.CreateAddress2(common.HexToAddress(from), saltBytes, crypto.Keccak256(initCode))

	return &domain.TraceStep{
		Op:      op,
		Depth:   log.Depth,
		Address: strings.ToLower(address.Hex()),
		Value:   value.String(),
	}, nil
}

// word parses a stack item. Older nodes return 64 hex chars without prefix,
// newer ones return compact 0x quantities.
func word(s string) (*big.Int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid stack word %q", s)
	}
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("stack word %q exceeds 256 bits", s)
	}
	return n, nil
}

// wordToAddress keeps the last 20 bytes of a stack item, lower-cased.
func wordToAddress(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "0x"))
	if len(s) < 40 {
		s = strings.Repeat("0", 40-len(s)) + s
	}
	return "0x" + s[len(s)-40:]
}

// readMemory copies size bytes at offset from the memory snapshot. Bytes past
// the end of the snapshot read as zero, as in the EVM.
func readMemory(memory []string, offsetWord, sizeWord string) ([]byte, error) {
	off, err := word(offsetWord)
	if err != nil {
		return nil, err
	}
	size, err := word(sizeWord)
	if err != nil {
		return nil, err
	}
	if size.Sign() == 0 {
		return []byte{}, nil
	}
	if !size.IsInt64() || size.Int64() > maxInputSize || !off.IsInt64() {
		return nil, fmt.Errorf("memory range %s+%s out of bounds", off, size)
	}

	mem, err := hex.DecodeString(strings.Join(trimWords(memory), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid memory: %w", err)
	}

	out := make([]byte, size.Int64())
	start := off.Int64()
	if start < int64(len(mem)) {
		copy(out, mem[start:])
	}
	return out, nil
}

func trimWords(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.TrimPrefix(w, "0x")
	}
	return out
}
