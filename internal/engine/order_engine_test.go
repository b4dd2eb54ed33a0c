package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashsale/checkout-engine/internal/cache"
	"github.com/flashsale/checkout-engine/internal/lock"
	"github.com/flashsale/checkout-engine/internal/model"
	"github.com/flashsale/checkout-engine/internal/repository"
	"github.com/flashsale/checkout-engine/internal/store"
)

type fakePublisher struct {
	events []OrderSettledEvent
	err    error
}

func (p *fakePublisher) PublishOrderSettled(ctx context.Context, evt OrderSettledEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func newTestOrderEngine(t *testing.T, pub SettlementPublisher) (*OrderEngine, *HoldEngine, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	st := store.New(db, 3, time.Millisecond, 2*time.Millisecond)
	holds := repository.NewHoldRepo(db)
	products := repository.NewProductRepo(db)
	orders := repository.NewOrderRepo(db)
	holdEngine := NewHoldEngine(st, holds, products, lock.New(nil, time.Second), cache.New(nil, time.Second), Config{
		MaxHoldQty: 10, HoldDuration: time.Minute, LockTimeout: time.Second, LockWait: 10 * time.Millisecond, ExpirePageSize: 50,
	})
	orderEngine := NewOrderEngine(st, orders, holdEngine, products, cache.New(nil, time.Second), pub)
	return orderEngine, holdEngine, mock, db
}

func holdRow(id uuid.UUID, productID uint64, quantity uint32, status model.HoldStatus, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "product_id", "quantity", "status", "expires_at", "created_at"}).
		AddRow(id.String(), productID, quantity, status, expiresAt, time.Now().UTC())
}

func orderColumns() []string {
	return []string{"id", "hold_id", "product_id", "quantity", "unit_price", "total_price", "status", "created_at", "updated_at"}
}

func TestOrderEngine_MarkPaid_SettlesAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	e, _, mock, db := newTestOrderEngine(t, pub)
	defer db.Close()

	orderID, holdID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \? FOR UPDATE`).
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(orderID.String(), holdID.String(), uint64(1), uint32(2), "9.99", "19.98", model.OrderPendingPayment, now, now))
	mock.ExpectQuery(`FROM products WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(1)).
		WillReturnRows(productRow(1, 10, 0))
	mock.ExpectExec(`UPDATE products`).
		WithArgs(uint32(2), sqlmock.AnyArg(), uint64(1), uint32(0), uint32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs(model.OrderPaid, sqlmock.AnyArg(), orderID.String(), model.OrderPendingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := e.MarkPaid(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, o.Status)
	require.Len(t, pub.events, 1)
	assert.Equal(t, orderID, pub.events[0].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderEngine_MarkPaid_AlreadyPaidIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	e, _, mock, db := newTestOrderEngine(t, pub)
	defer db.Close()

	orderID, holdID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \? FOR UPDATE`).
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(orderID.String(), holdID.String(), uint64(1), uint32(2), "9.99", "19.98", model.OrderPaid, now, now))
	mock.ExpectCommit()

	o, err := e.MarkPaid(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, o.Status)
	assert.Empty(t, pub.events, "already-paid settlement must not re-publish")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderEngine_MarkPaid_StockInvariantViolation(t *testing.T) {
	e, _, mock, db := newTestOrderEngine(t, nil)
	defer db.Close()

	orderID, holdID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \? FOR UPDATE`).
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(orderID.String(), holdID.String(), uint64(1), uint32(20), "9.99", "199.80", model.OrderPendingPayment, now, now))
	mock.ExpectQuery(`FROM products WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(1)).
		WillReturnRows(productRow(1, 5, 0))
	mock.ExpectRollback()

	_, err := e.MarkPaid(context.Background(), orderID)
	require.Error(t, err)
	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, KindStockInvariantViolation, ee.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderEngine_CancelOrder_ReleasesConvertedHold(t *testing.T) {
	e, _, mock, db := newTestOrderEngine(t, nil)
	defer db.Close()

	orderID, holdID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \? FOR UPDATE`).
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow(orderID.String(), holdID.String(), uint64(1), uint32(2), "9.99", "19.98", model.OrderPendingPayment, now, now))
	mock.ExpectQuery(`FROM holds WHERE id = \? FOR UPDATE`).
		WithArgs(holdID.String()).
		WillReturnRows(holdRow(holdID, 1, 2, model.HoldConverted, now.Add(time.Minute)))
	mock.ExpectExec(`UPDATE holds SET status = \? WHERE id = \? AND status = \?`).
		WithArgs(model.HoldReleased, holdID.String(), model.HoldConverted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs(model.OrderCancelled, sqlmock.AnyArg(), orderID.String(), model.OrderPendingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := e.CancelOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, o.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
