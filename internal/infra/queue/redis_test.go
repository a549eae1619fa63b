package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisQueue(rdb, time.Minute), mr
}

func TestRedisQueue_DeduplicatesByName(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	name := Name(TypeBatchBlockSync, 7, 10, 20)
	require.NoError(t, q.Enqueue(ctx, TypeBatchBlockSync, name, map[string]int64{"from": 10}))
	require.NoError(t, q.Enqueue(ctx, TypeBatchBlockSync, name, map[string]int64{"from": 10}))

	pending, err := q.Pending(ctx, TypeBatchBlockSync)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	job, err := q.Pop(ctx, TypeBatchBlockSync)
	require.NoError(t, err)
	assert.Equal(t, "batchBlockSync-7-10-20", job.Name)

	// Still locked while running
	require.NoError(t, q.Enqueue(ctx, TypeBatchBlockSync, name, nil))
	_, err = q.Pop(ctx, TypeBatchBlockSync)
	assert.ErrorIs(t, err, ErrNoJob)

	// Released after completion
	require.NoError(t, q.Complete(ctx, job))
	require.NoError(t, q.Enqueue(ctx, TypeBatchBlockSync, name, nil))
	pending, err = q.Pending(ctx, TypeBatchBlockSync)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestRedisQueue_PriorityOrder(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, TypeBlockSync, "blockSync-1-5", nil, WithPriority(PriorityLow)))
	require.NoError(t, q.Enqueue(ctx, TypeBlockSync, "blockSync-1-1", nil, WithPriority(PriorityHighest)))

	job, err := q.Pop(ctx, TypeBlockSync)
	require.NoError(t, err)
	assert.Equal(t, "blockSync-1-1", job.Name)
	assert.Equal(t, PriorityHighest, job.Priority)
}

func TestRedisQueue_DelayedJobs(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, TypeDeleteWorkspace, "deleteWorkspace-3", map[string]int64{"workspaceId": 3},
		WithDelay(150*time.Millisecond)))

	_, err := q.Pop(ctx, TypeDeleteWorkspace)
	assert.ErrorIs(t, err, ErrNoJob)

	time.Sleep(200 * time.Millisecond)

	job, err := q.Pop(ctx, TypeDeleteWorkspace)
	require.NoError(t, err)

	var payload struct {
		WorkspaceID int64 `json:"workspaceId"`
	}
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, int64(3), payload.WorkspaceID)
}

func TestRedisQueue_RetryIncrementsAttempt(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, TypeIntegrityCheck, "integrityCheck-1", nil))
	job, err := q.Pop(ctx, TypeIntegrityCheck)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, job, 0))
	again, err := q.Pop(ctx, TypeIntegrityCheck)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
}

func TestRedisQueue_BulkEnqueue(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	specs := []Spec{
		{Name: "batchBlockSync-1-4-4", Data: map[string]int64{"from": 4, "to": 4}},
		{Name: "batchBlockSync-1-9-12", Data: map[string]int64{"from": 9, "to": 12}},
		{Name: "batchBlockSync-1-4-4", Data: map[string]int64{"from": 4, "to": 4}},
	}
	require.NoError(t, q.BulkEnqueue(ctx, TypeBatchBlockSync, specs))

	pending, err := q.Pending(ctx, TypeBatchBlockSync)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}

func TestRedisQueue_ExpiredLeaseIsRequeued(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewRedisQueue(rdb, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, TypeIntegrityCheck, "integrityCheck-1", nil))
	job, err := q.Pop(ctx, TypeIntegrityCheck)
	require.NoError(t, err)

	// Held by the first worker.
	_, err = q.Pop(ctx, TypeIntegrityCheck)
	assert.ErrorIs(t, err, ErrNoJob)

	time.Sleep(150 * time.Millisecond)

	again, err := q.Pop(ctx, TypeIntegrityCheck)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, "integrityCheck-1", again.Name)
}

func TestRedisQueue_SettledJobsLeaveActiveSet(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, TypeBlockSync, "blockSync-1-1", nil))
	require.NoError(t, q.Enqueue(ctx, TypeBlockSync, "blockSync-1-2", nil))

	first, err := q.Pop(ctx, TypeBlockSync)
	require.NoError(t, err)
	second, err := q.Pop(ctx, TypeBlockSync)
	require.NoError(t, err)

	active, err := q.rdb.ZCard(ctx, activeKey(TypeBlockSync)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	require.NoError(t, q.Complete(ctx, first))
	require.NoError(t, q.Retry(ctx, second, time.Hour))

	active, err = q.rdb.ZCard(ctx, activeKey(TypeBlockSync)).Result()
	require.NoError(t, err)
	assert.Zero(t, active)

	pending, err := q.Pending(ctx, TypeBlockSync)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestRedisQueue_ShutdownDuringJobKeepsIt(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(WorkerConfig{MaxAttempts: 1}, q)
	w.Register(TypeIntegrityCheck, func(ctx context.Context, job *Job) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	require.NoError(t, q.Enqueue(ctx, TypeIntegrityCheck, "integrityCheck-1", nil))
	assert.True(t, w.RunOnce(ctx, w.Types(), 0))

	bg := context.Background()
	pending, err := q.Pending(bg, TypeIntegrityCheck)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	job, err := q.Pop(bg, TypeIntegrityCheck)
	require.NoError(t, err)
	assert.Equal(t, "integrityCheck-1", job.Name)
	assert.Equal(t, 1, job.Attempt)
}
