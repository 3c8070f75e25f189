package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/entity"
	"checkout-service/internal/sharding"

	"golang.org/x/sync/errgroup"
)

const orderColumns = `id, merchant_transaction_id, user_id, cart_id, address, city, pincode, phone, notes,
	order_status, payment_status, payment_method, total_amount, gateway_transaction_id, transaction_details,
	order_date, last_updated`

const itemQuery = `SELECT product_id, title, image, price, quantity, size, color_name, color_code, color_image FROM order_items WHERE order_id = ? ORDER BY id`

// OrderRepository stores orders across MySQL shards keyed by merchant transaction id.
type OrderRepository struct {
	dbShards []*sql.DB
	router   *sharding.ShardRouter
	now      func() time.Time
}

func NewOrderRepository(dbShards []*sql.DB, router *sharding.ShardRouter) *OrderRepository {
	return &OrderRepository{dbShards: dbShards, router: router, now: time.Now}
}

func (r *OrderRepository) shardFor(merchantTransactionID string) *sql.DB {
	return r.dbShards[r.router.GetShard(merchantTransactionID)]
}

// Insert persists a new order with its items. A merchant transaction id that
// already exists yields ErrDuplicateTransaction.
func (r *OrderRepository) Insert(ctx context.Context, order *entity.Order) error {
	db := r.shardFor(order.MerchantTransactionID)

	now := r.now().UTC()
	order.OrderDate = now
	order.LastUpdated = now

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	orderQuery := `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, orderQuery,
		order.ID, order.MerchantTransactionID, order.UserID, order.CartID,
		order.AddressInfo.Address, order.AddressInfo.City, order.AddressInfo.Pincode, order.AddressInfo.Phone, order.AddressInfo.Notes,
		string(order.OrderStatus), string(order.PaymentStatus), order.PaymentMethod, order.TotalAmount,
		order.GatewayTransactionID, nullJSON(order.TransactionDetails), order.OrderDate, order.LastUpdated,
	)
	if err != nil {
		tx.Rollback()
		if isDuplicateKey(err) {
			return ErrDuplicateTransaction
		}
		return err
	}

	if len(order.CartItems) > 0 {
		// Insert items with batch
		itemInsert := `INSERT INTO order_items (order_id, product_id, title, image, price, quantity, size, color_name, color_code, color_image) VALUES `
		placeholders := make([]string, 0, len(order.CartItems))
		values := make([]interface{}, 0, len(order.CartItems)*10)
		for _, item := range order.CartItems {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			values = append(values, order.ID, item.ProductID, item.Title, item.Image, item.Price, item.Quantity,
				item.Size, item.Color.ColorName, item.Color.ColorCode, item.Color.Image)
		}

		if _, err = tx.ExecContext(ctx, itemInsert+strings.Join(placeholders, ", "), values...); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) FindByMerchantTransactionID(ctx context.Context, merchantTransactionID string) (*entity.Order, error) {
	db := r.shardFor(merchantTransactionID)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE merchant_transaction_id = ?`

	order, err := scanOrder(db.QueryRowContext(ctx, query, merchantTransactionID))
	if err != nil {
		return nil, err
	}

	if err := loadItems(ctx, db, order); err != nil {
		return nil, err
	}
	return order, nil
}

// FindByID looks the order up on every shard, since internal ids carry no routing information.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	var (
		mu    sync.Mutex
		found *entity.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, db := range r.dbShards {
		db := db
		g.Go(func() error {
			order, err := scanOrder(db.QueryRowContext(gctx, query, id))
			if errors.Is(err, ErrOrderNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := loadItems(gctx, db, order); err != nil {
				return err
			}
			mu.Lock()
			found = order
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrOrderNotFound
	}
	return found, nil
}

// ListByUser returns the user's orders from all shards, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ? ORDER BY order_date DESC`

	orders, err := r.fanOut(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
	return orders, nil
}

// ListPendingBefore returns up to limit pending orders created before cutoff, oldest first.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_status = ? AND order_date < ? ORDER BY order_date ASC LIMIT ?`

	orders, err := r.fanOut(ctx, query, string(entity.PaymentPending), cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].OrderDate.Before(orders[j].OrderDate)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// UpdateStatus applies a terminal payment status only if the order is still
// pending. The returned bool reports whether this call performed the
// transition; when it did not, the stored order is returned unchanged.
func (r *OrderRepository) UpdateStatus(ctx context.Context, merchantTransactionID string, upd entity.StatusUpdate) (*entity.Order, bool, error) {
	if !upd.PaymentStatus.Terminal() {
		return nil, false, fmt.Errorf("update status: %q is not a terminal payment status", upd.PaymentStatus)
	}

	db := r.shardFor(merchantTransactionID)

	query := `UPDATE orders
		SET payment_status = ?, order_status = ?, transaction_details = COALESCE(?, transaction_details),
			gateway_transaction_id = IF(? = '', gateway_transaction_id, ?), last_updated = ?
		WHERE merchant_transaction_id = ? AND payment_status = ?`

	res, err := db.ExecContext(ctx, query,
		string(upd.PaymentStatus), string(entity.OrderStatusFor(upd.PaymentStatus)), nullJSON(upd.TransactionDetails),
		upd.GatewayTransactionID, upd.GatewayTransactionID, r.now().UTC(),
		merchantTransactionID, string(entity.PaymentPending),
	)
	if err != nil {
		return nil, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	order, err := r.FindByMerchantTransactionID(ctx, merchantTransactionID)
	if err != nil {
		return nil, false, err
	}
	return order, affected == 1, nil
}

func (r *OrderRepository) fanOut(ctx context.Context, query string, args ...interface{}) ([]*entity.Order, error) {
	results := make([][]*entity.Order, len(r.dbShards))

	g, gctx := errgroup.WithContext(ctx)
	for i, db := range r.dbShards {
		i, db := i, db
		g.Go(func() error {
			orders, err := queryOrders(gctx, db, query, args...)
			if err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			results[i] = orders
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []*entity.Order
	for _, orders := range results {
		merged = append(merged, orders...)
	}
	return merged, nil
}

func queryOrders(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*entity.Order, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, order := range orders {
		if err := loadItems(ctx, db, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*entity.Order, error) {
	order := &entity.Order{}
	var (
		orderStatus, paymentStatus string
		details                    sql.NullString
	)

	err := row.Scan(
		&order.ID, &order.MerchantTransactionID, &order.UserID, &order.CartID,
		&order.AddressInfo.Address, &order.AddressInfo.City, &order.AddressInfo.Pincode, &order.AddressInfo.Phone, &order.AddressInfo.Notes,
		&orderStatus, &paymentStatus, &order.PaymentMethod, &order.TotalAmount,
		&order.GatewayTransactionID, &details, &order.OrderDate, &order.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	order.OrderStatus = entity.OrderStatus(orderStatus)
	order.PaymentStatus = entity.PaymentStatus(paymentStatus)
	if details.Valid && details.String != "" {
		order.TransactionDetails = []byte(details.String)
	}
	return order, nil
}

func loadItems(ctx context.Context, db *sql.DB, order *entity.Order) error {
	rows, err := db.QueryContext(ctx, itemQuery, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	order.CartItems = []entity.OrderItem{}
	for rows.Next() {
		item := entity.OrderItem{}
		err := rows.Scan(&item.ProductID, &item.Title, &item.Image, &item.Price, &item.Quantity,
			&item.Size, &item.Color.ColorName, &item.Color.ColorCode, &item.Color.Image)
		if err != nil {
			return err
		}
		order.CartItems = append(order.CartItems, item)
	}
	return rows.Err()
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
