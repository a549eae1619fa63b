package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_ReturnsValue(t *testing.T) {
	v, err := Do(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_TimesOut(t *testing.T) {
	start := time.Now()
	_, err := Do(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		time.Sleep(500 * time.Millisecond)
		return 1, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestDo_PassesErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), time.Second, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsRecoverable(err))
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrTimedOut, true},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), true},
		{errors.New("getaddrinfo ENOTFOUND node.example"), true},
		{errors.New("http 502: Bad Gateway"), true},
		{errors.New("rpc error: execution reverted"), false},
		{errors.New("record not found"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRecoverable(tt.err), "%v", tt.err)
	}
}
