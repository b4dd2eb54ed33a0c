package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProductRepo(t *testing.T) (*ProductRepo, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewProductRepo(db), mock, db
}

func TestProductRepo_GetByID_Found(t *testing.T) {
	repo, mock, db := newMockProductRepo(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "description", "price", "stock", "version", "created_at", "updated_at"}).
		AddRow(uint64(1), "Flash Widget", "a widget", "19.99", uint32(10), uint32(2), now, now)
	mock.ExpectQuery(`SELECT id, name, description, price, stock, version, created_at, updated_at\s+FROM products WHERE id = \?`).
		WithArgs(uint64(1)).
		WillReturnRows(rows)

	p, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Flash Widget", p.Name)
	assert.True(t, p.Price.Equal(mustDecimal("19.99")))
	assert.Equal(t, uint32(10), p.Stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepo_GetByID_NotFound(t *testing.T) {
	repo, mock, db := newMockProductRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, description, price, stock, version, created_at, updated_at\s+FROM products WHERE id = \?`).
		WithArgs(uint64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepo_DecrementStockTx_Success(t *testing.T) {
	repo, mock, db := newMockProductRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products\s+SET stock = stock - \?, version = version \+ 1, updated_at = \?\s+WHERE id = \? AND version = \? AND stock >= \?`).
		WithArgs(uint32(3), sqlmock.AnyArg(), uint64(1), uint32(2), uint32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = repo.DecrementStockTx(context.Background(), tx, 1, 3, 2)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepo_DecrementStockTx_VersionConflict(t *testing.T) {
	repo, mock, db := newMockProductRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = repo.DecrementStockTx(context.Background(), tx, 1, 3, 2)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
