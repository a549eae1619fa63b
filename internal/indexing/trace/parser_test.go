package trace

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
)

var zeroWord = strings.Repeat("0", 64)

func staticCode(code string) CodeLookup {
	return func(ctx context.Context, address string) (string, error) { return code, nil }
}

func TestParse_Create2Vectors(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		salt     string
		expected string
	}{
		{
			name:     "zero sender and salt",
			sender:   "0x0000000000000000000000000000000000000000",
			salt:     "0x0",
			expected: "0x4d1a2e2bb4f88f0250f26ffff098b0b30b26bf38",
		},
		{
			name:     "deadbeef sender",
			sender:   "0xdeadbeef00000000000000000000000000000000",
			salt:     zeroWord,
			expected: "0xb928f69bb1d91cd65274e3c79d8986362984fda3",
		},
		{
			name:     "non-zero salt",
			sender:   "0xdeadbeef00000000000000000000000000000000",
			salt:     "000000000000000000000000feed000000000000000000000000000000000000",
			expected: "0xd04116cdd17bebe565eb2422f2497e06cc1c9833",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// init code 0x00 at memory offset 0
			logs := []domain.StructLog{{
				Op:     "CREATE2",
				Depth:  1,
				Stack:  []string{tt.salt, "0x1", "0x0", "0x0"},
				Memory: []string{zeroWord},
			}}

			steps, err := Parse(context.Background(), tt.sender, logs, staticCode("0x6001"))
			require.NoError(t, err)
			require.Len(t, steps, 1)
			assert.Equal(t, tt.expected, steps[0].Address)
			assert.Equal(t, domain.OpCreate2, steps[0].Op)
			assert.Equal(t, crypto.Keccak256Hash(common.FromHex("0x6001")).Hex(), steps[0].ContractHashedBytecode)
		})
	}
}

func TestParse_CreateUsesCreate2Formula(t *testing.T) {
	sender := "0xdeadbeef00000000000000000000000000000000"
	// Nothing under size on the stack, so the salt is zero.
	logs := []domain.StructLog{{
		Op:     "CREATE",
		Depth:  2,
		Stack:  []string{"0x1", "0x0", "0x5"},
		Memory: []string{zeroWord},
	}}

	steps, err := Parse(context.Background(), sender, logs, staticCode("0x"))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "0xb928f69bb1d91cd65274e3c79d8986362984fda3", steps[0].Address)
	assert.Equal(t, "5", steps[0].Value)
	assert.Equal(t, 2, steps[0].Depth)
}

func TestParse_DoesNotMutateStack(t *testing.T) {
	stack := []string{"0x0", "0x1", "0x0", "0x0"}
	logs := []domain.StructLog{{Op: "CREATE2", Depth: 1, Stack: stack, Memory: []string{zeroWord}}}
	before := slices.Clone(stack)

	_, err := Parse(context.Background(), "0x0000000000000000000000000000000000000000", logs, staticCode("0x"))
	require.NoError(t, err)
	assert.Equal(t, before, logs[0].Stack)
	assert.Len(t, logs[0].Stack, 4)
}

func TestParse_CallFamily(t *testing.T) {
	target := "000000000000000000000000AbCdEf0000000000000000000000000000000001"
	memory := []string{"00000000a9059cbb" + strings.Repeat("0", 48)}

	logs := []domain.StructLog{
		{Op: "PUSH1", Depth: 1, Stack: []string{}},
		{
			// retSize, retOffset, argsSize, argsOffset, value, address, gas
			Op:     "CALL",
			Depth:  1,
			Stack:  []string{"0x0", "0x0", "0x4", "0x4", "0xde0b6b3a7640000", target, "0x5208"},
			Memory: memory,
		},
		{
			// retSize, retOffset, argsSize, argsOffset, address, gas
			Op:     "staticcall",
			Depth:  2,
			Stack:  []string{"0x0", "0x0", "0x4", "0x4", target, "0x5208"},
			Memory: memory,
		},
		{Op: "SSTORE", Depth: 2, Stack: []string{"0x1", "0x2"}},
	}

	var looked []string
	lookup := func(ctx context.Context, address string) (string, error) {
		looked = append(looked, address)
		return "0x6080", nil
	}

	// Lookups run concurrently, so keep them serial for the recorder.
	steps, err := Parse(context.Background(), "0x1", logs, serial(lookup))
	require.NoError(t, err)
	require.Len(t, steps, 2)

	call := steps[0]
	assert.Equal(t, domain.OpCall, call.Op)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", call.Address)
	assert.Equal(t, "1000000000000000000", call.Value)
	assert.Equal(t, "0xa9059cbb", call.Input)
	assert.Equal(t, 0, call.Position)

	static := steps[1]
	assert.Equal(t, domain.OpStaticCall, static.Op)
	assert.Equal(t, "0", static.Value)
	assert.Equal(t, "0xa9059cbb", static.Input)
	assert.Equal(t, 2, static.Depth)
	assert.Equal(t, 1, static.Position)

	assert.Len(t, looked, 2)
	assert.Equal(t, HashBytecode("0x6080"), call.ContractHashedBytecode)
}

func TestParse_MemoryPastEndReadsZero(t *testing.T) {
	logs := []domain.StructLog{{
		Op:     "DELEGATECALL",
		Depth:  1,
		Stack:  []string{"0x0", "0x0", "0x2", "0x40", "0x1", "0x5208"},
		Memory: []string{zeroWord},
	}}

	steps, err := Parse(context.Background(), "0x1", logs, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "0x0000", steps[0].Input)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", steps[0].Address)
	assert.Empty(t, steps[0].ContractHashedBytecode)
}

func TestParse_Errors(t *testing.T) {
	t.Run("short stack", func(t *testing.T) {
		logs := []domain.StructLog{{Op: "CALL", Stack: []string{"0x1"}}}
		_, err := Parse(context.Background(), "0x1", logs, nil)
		assert.Error(t, err)
	})

	t.Run("lookup failure", func(t *testing.T) {
		logs := []domain.StructLog{{Op: "CREATE2", Stack: []string{"0x0", "0x0", "0x0", "0x0"}}}
		lookup := func(ctx context.Context, address string) (string, error) {
			return "", errors.New("connection refused")
		}
		_, err := Parse(context.Background(), "0x1", logs, lookup)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestParse_NoRelevantOps(t *testing.T) {
	logs := []domain.StructLog{{Op: "ADD"}, {Op: "RETURN"}}
	steps, err := Parse(context.Background(), "0x1", logs, staticCode("0x"))
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func serial(fn CodeLookup) CodeLookup {
	ch := make(chan struct{}, 1)
	return func(ctx context.Context, address string) (string, error) {
		ch <- struct{}{}
		defer func() { <-ch }()
		return fn(ctx, address)
	}
}
