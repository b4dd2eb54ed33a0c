package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashsale/checkout-engine/internal/model"
)

func newMockOrderRepo(t *testing.T) (*OrderRepo, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewOrderRepo(db), mock, db
}

func orderColumns() []string {
	return []string{"id", "hold_id", "product_id", "quantity", "unit_price", "total_price", "status", "created_at", "updated_at"}
}

func TestOrderRepo_GetByHoldIDTx_NotFound(t *testing.T) {
	repo, mock, db := newMockOrderRepo(t)
	defer db.Close()

	holdID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE hold_id = \?`).
		WithArgs(holdID.String()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = repo.GetByHoldIDTx(context.Background(), tx, holdID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_GetByHoldIDTx_Found(t *testing.T) {
	repo, mock, db := newMockOrderRepo(t)
	defer db.Close()

	id, holdID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	rows := sqlmock.NewRows(orderColumns()).
		AddRow(id.String(), holdID.String(), uint64(5), uint32(3), "19.99", "59.97", model.OrderPendingPayment, now, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE hold_id = \?`).
		WithArgs(holdID.String()).
		WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	o, err := repo.GetByHoldIDTx(context.Background(), tx, holdID)
	require.NoError(t, err)
	assert.Equal(t, id, o.ID)
	assert.True(t, o.TotalPrice.Equal(mustDecimal("59.97")))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_UpdateStatusTx(t *testing.T) {
	repo, mock, db := newMockOrderRepo(t)
	defer db.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs(model.OrderPaid, sqlmock.AnyArg(), id.String(), model.OrderPendingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	ok, err := repo.UpdateStatusTx(context.Background(), tx, id, model.OrderPendingPayment, model.OrderPaid)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
