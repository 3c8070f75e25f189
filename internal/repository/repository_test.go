package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"checkout-service/internal/entity"
	"checkout-service/internal/sharding"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{
	"id", "merchant_transaction_id", "user_id", "cart_id", "address", "city", "pincode", "phone", "notes",
	"order_status", "payment_status", "payment_method", "total_amount", "gateway_transaction_id", "transaction_details",
	"order_date", "last_updated",
}

var itemCols = []string{"product_id", "title", "image", "price", "quantity", "size", "color_name", "color_code", "color_image"}

func newMockRepo(t *testing.T, shards int) (*OrderRepository, []sqlmock.Sqlmock) {
	t.Helper()

	dbs := make([]*sql.DB, 0, shards)
	mocks := make([]sqlmock.Sqlmock, 0, shards)
	for i := 0; i < shards; i++ {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		dbs = append(dbs, db)
		mocks = append(mocks, mock)
	}

	repo := NewOrderRepository(dbs, sharding.NewShardRouter(shards))
	repo.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return repo, mocks
}

func orderRow(id, mtid, userID, paymentStatus string, at time.Time) []driver.Value {
	return []driver.Value{
		id, mtid, userID, "cart-1", "12 MG Road", "Bengaluru", "560001", "9999999999", "",
		string(entity.OrderStatusFor(entity.PaymentStatus(paymentStatus))), paymentStatus, "phonepe", 1500.0, "", nil,
		at, at,
	}
}

func expectItems(mock sqlmock.Sqlmock, orderID string) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = ?")).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("p1", "Linen Shirt", "img.png", 1500.0, 1, "M", "Blue", "#0000ff", "blue.png"))
}

func sampleOrder() *entity.Order {
	return &entity.Order{
		ID:                    "6f1c0a52-1111-4c1e-9d2b-000000000001",
		UserID:                "user-1",
		CartID:                "cart-1",
		MerchantTransactionID: "TXN1759320000000abcd",
		CartItems: []entity.OrderItem{
			{ProductID: "p1", Title: "Linen Shirt", Price: 1500, Quantity: 1, Size: "M"},
		},
		AddressInfo:   entity.Address{Address: "12 MG Road", City: "Bengaluru", Pincode: "560001", Phone: "9999999999"},
		OrderStatus:   entity.OrderPending,
		PaymentStatus: entity.PaymentPending,
		PaymentMethod: entity.PaymentMethodPhonePe,
		TotalAmount:   1500,
	}
}

func TestInsert_WritesOrderAndItems(t *testing.T) {
	repo, mocks := newMockRepo(t, 1)
	mock := mocks[0]
	order := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(order.ID, order.MerchantTransactionID, "user-1", "cart-1",
			"12 MG Road", "Bengaluru", "560001", "9999999999", "",
			"pending", "pending", "phonepe", 1500.0, "", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(order.ID, "p1", "Linen Shirt", "", 1500.0, 1, "M", "", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Insert(context.Background(), order))
	assert.Equal(t, repo.now(), order.OrderDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_DuplicateTransaction(t *testing.T) {
	repo, mocks := newMockRepo(t, 1)
	mock := mocks[0]

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), sampleOrder())
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByMerchantTransactionID(t *testing.T) {
	repo, mocks := newMockRepo(t, 1)
	mock := mocks[0]
	at := repo.now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE merchant_transaction_id = ?")).
		WithArgs("TXN1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o1", "TXN1", "user-1", "paid", at)...))
	expectItems(mock, "o1")

	order, err := repo.FindByMerchantTransactionID(context.Background(), "TXN1")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPaid, order.PaymentStatus)
	assert.Equal(t, entity.OrderConfirmed, order.OrderStatus)
	require.Len(t, order.CartItems, 1)
	assert.Equal(t, "Blue", order.CartItems[0].Color.ColorName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByMerchantTransactionID_NotFound(t *testing.T) {
	repo, mocks := newMockRepo(t, 1)

	mocks[0].ExpectQuery(regexp.QuoteMeta("FROM orders WHERE merchant_transaction_id = ?")).
		WithArgs("TXN404").
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := repo.FindByMerchantTransactionID(context.Background(), "TXN404")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestUpdateStatus_AppliesOnlyWhilePending(t *testing.T) {
	repo, mocks := newMockRepo(t, 1)
	mock := mocks[0]
	at := repo.now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).
		WithArgs("paid", "confirmed", `{"code":"PAYMENT_SUCCESS"}`, "T123", "T123", sqlmock.AnyArg(), "TXN1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE merchant_transaction_id = ?")).
		WithArgs("TXN1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o1", "TXN1", "user-1", "paid", at)...))
	expectItems(mock, "o1")

	order, applied, err := repo.UpdateStatus(context.Background(), "TXN1", entity.StatusUpdate{
		PaymentStatus:        entity.PaymentPaid,
		GatewayTransactionID: "T123",
		TransactionDetails:   []byte(`{"code":"PAYMENT_SUCCESS"}`),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, entity.PaymentPaid, order.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NoopWhenAlreadyTerminal(t *testing.T) {
	repo, mocks := newMockRepo(t, 1)
	mock := mocks[0]
	at := repo.now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE merchant_transaction_id = ? AND payment_status = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE merchant_transaction_id = ?")).
		WithArgs("TXN1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o1", "TXN1", "user-1", "paid", at)...))
	expectItems(mock, "o1")

	order, applied, err := repo.UpdateStatus(context.Background(), "TXN1", entity.StatusUpdate{PaymentStatus: entity.PaymentFailed})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, entity.PaymentPaid, order.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_RejectsNonTerminal(t *testing.T) {
	repo, _ := newMockRepo(t, 1)

	_, _, err := repo.UpdateStatus(context.Background(), "TXN1", entity.StatusUpdate{PaymentStatus: entity.PaymentPending})
	assert.Error(t, err)
}

func TestFindByID_SearchesAllShards(t *testing.T) {
	repo, mocks := newMockRepo(t, 2)
	at := repo.now()

	mocks[0].ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).
		WithArgs("o2").
		WillReturnRows(sqlmock.NewRows(orderCols))
	mocks[1].ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).
		WithArgs("o2").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o2", "TXN2", "user-1", "pending", at)...))
	expectItems(mocks[1], "o2")

	order, err := repo.FindByID(context.Background(), "o2")
	require.NoError(t, err)
	assert.Equal(t, "TXN2", order.MerchantTransactionID)
	for _, mock := range mocks {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mocks := newMockRepo(t, 2)
	for _, mock := range mocks {
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WillReturnRows(sqlmock.NewRows(orderCols))
	}

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListByUser_MergesShardsNewestFirst(t *testing.T) {
	repo, mocks := newMockRepo(t, 2)
	older := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)

	mocks[0].ExpectQuery(regexp.QuoteMeta("FROM orders WHERE user_id = ?")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o1", "TXN1", "user-1", "paid", older)...))
	expectItems(mocks[0], "o1")
	mocks[1].ExpectQuery(regexp.QuoteMeta("FROM orders WHERE user_id = ?")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o2", "TXN2", "user-1", "pending", newer)...))
	expectItems(mocks[1], "o2")

	orders, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].ID)
	assert.Equal(t, "o1", orders[1].ID)
}

func TestListPendingBefore_AppliesLimitAcrossShards(t *testing.T) {
	repo, mocks := newMockRepo(t, 2)
	cutoff := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	t1 := cutoff.Add(-3 * time.Hour)
	t2 := cutoff.Add(-2 * time.Hour)
	t3 := cutoff.Add(-1 * time.Hour)

	mocks[0].ExpectQuery(regexp.QuoteMeta("WHERE payment_status = ? AND order_date < ?")).
		WithArgs("pending", cutoff, 2).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(orderRow("o1", "TXN1", "u", "pending", t1)...).
			AddRow(orderRow("o3", "TXN3", "u", "pending", t3)...))
	expectItems(mocks[0], "o1")
	expectItems(mocks[0], "o3")
	mocks[1].ExpectQuery(regexp.QuoteMeta("WHERE payment_status = ? AND order_date < ?")).
		WithArgs("pending", cutoff, 2).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow("o2", "TXN2", "u", "pending", t2)...))
	expectItems(mocks[1], "o2")

	orders, err := repo.ListPendingBefore(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o1", orders[0].ID)
	assert.Equal(t, "o2", orders[1].ID)
}
