package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &DB{DB: sqlx.NewDb(conn, "sqlmock")}, mock
}

var blockCols = []string{
	"id", "workspace_id", "number", "hash", "timestamp", "miner",
	"base_fee_per_gas", "is_ready", "created_at",
}

func TestBlockRepo_FindGaps(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)

	mock.ExpectQuery(`WITH numbers AS`).
		WithArgs(int64(1), int64(10), int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"from_block", "to_block"}).
			AddRow(10, 12).
			AddRow(15, 15))

	gaps, err := repo.FindGaps(context.Background(), 1, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, []storage.Gap{{FromBlock: 10, ToBlock: 12}, {FromBlock: 15, ToBlock: 15}}, gaps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockRepo_GetByNumberNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)

	mock.ExpectQuery(`FROM blocks WHERE workspace_id = \$1 AND number = \$2`).
		WithArgs(int64(1), int64(42)).
		WillReturnRows(sqlmock.NewRows(blockCols))

	block, err := repo.GetByNumber(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.Nil(t, block)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockRepo_GetByIDLoadsTransactions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM blocks WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(blockCols).
			AddRow(7, 1, 100, "0xb", now, "0xminer", nil, false, now))
	mock.ExpectQuery(`FROM transactions WHERE block_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	block, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, int64(100), block.Number)
	assert.Empty(t, block.BaseFeePerGas)
	assert.Empty(t, block.Transactions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockRepo_GetFirstAfter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)
	cutoff := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectQuery(`WHERE workspace_id = \$1 AND timestamp > \$2`).
		WithArgs(int64(1), cutoff).
		WillReturnRows(sqlmock.NewRows(blockCols).
			AddRow(21, 1, 500, "0xb", cutoff.Add(time.Second), "0xminer", nil, true, cutoff))

	block, err := repo.GetFirstAfter(context.Background(), 1, cutoff)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, int64(500), block.Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockRepo_RevertMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)

	mock.ExpectExec(`DELETE FROM blocks WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revert(context.Background(), 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockRepo_DeleteBetween(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)
	from := time.Unix(0, 0).UTC()
	to := from.Add(24 * time.Hour)

	mock.ExpectExec(`DELETE FROM blocks`).
		WithArgs(int64(3), from, to, 500).
		WillReturnResult(sqlmock.NewResult(0, 120))

	n, err := repo.DeleteBetween(context.Background(), 3, from, to, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockRepo_DeleteBetweenError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBlockRepo(db)

	mock.ExpectExec(`DELETE FROM blocks`).WillReturnError(errors.New("boom"))

	_, err := repo.DeleteBetween(context.Background(), 3, time.Time{}, time.Now(), 10)
	assert.ErrorContains(t, err, "failed to delete blocks")
}

func TestTransferRepo_CreateWithEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransferRepo(db)
	block := &domain.Block{ID: 1, WorkspaceID: 1, Number: 10, Timestamp: time.Now()}
	transfers := []*domain.TokenTransfer{{
		WorkspaceID:   1,
		TransactionID: 5,
		Token:         domain.NativeTokenAddress,
		Src:           "0xa",
		Dst:           "0xb",
		Amount:        "100",
	}}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO token_transfers`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "transaction_id", "token", "src", "dst", "amount", "is_reward",
		}).AddRow(11, 1, 5, domain.NativeTokenAddress, "0xa", "0xb", "100", false))
	mock.ExpectExec(`INSERT INTO token_transfer_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.CreateWithEvents(context.Background(), block, transfers)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(11), created[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferRepo_CreateWithEventsKeepsTraceStep(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransferRepo(db)
	block := &domain.Block{ID: 1, WorkspaceID: 1, Number: 10, Timestamp: time.Now()}
	pos := 4
	transfers := []*domain.TokenTransfer{{
		WorkspaceID:       1,
		TransactionID:     5,
		Token:             domain.NativeTokenAddress,
		Src:               "0xa",
		Dst:               "0xb",
		Amount:            "5",
		TraceStepPosition: &pos,
	}}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO token_transfers .* trace_step_position\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "transaction_id", "token", "src", "dst", "amount", "is_reward", "trace_step_position",
		}).AddRow(13, 1, 5, domain.NativeTokenAddress, "0xa", "0xb", "5", false, 4))
	mock.ExpectExec(`INSERT INTO token_transfer_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.CreateWithEvents(context.Background(), block, transfers)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.NotNil(t, created[0].TraceStepPosition)
	assert.Equal(t, 4, *created[0].TraceStepPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferRepo_CreateWithEventsRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransferRepo(db)
	block := &domain.Block{ID: 1, WorkspaceID: 1, Number: 10}
	transfers := []*domain.TokenTransfer{{WorkspaceID: 1, TransactionID: 5, Token: "0xt", Amount: "1"}}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO token_transfers`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "transaction_id", "token", "src", "dst", "amount", "is_reward",
		}).AddRow(12, 1, 5, "0xt", "", "", "1", false))
	mock.ExpectExec(`INSERT INTO token_transfer_events`).WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	_, err := repo.CreateWithEvents(context.Background(), block, transfers)
	assert.ErrorContains(t, err, "failed to insert token transfer events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferRepo_SaveBalanceChangesEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransferRepo(db)

	require.NoError(t, repo.SaveBalanceChanges(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegrityRepo_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIntegrityRepo(db)

	mock.ExpectExec(`INSERT INTO integrity_checks`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &domain.IntegrityCheck{
		WorkspaceID: 1,
		Status:      domain.IntegrityHealthy,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
