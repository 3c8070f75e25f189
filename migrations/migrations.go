package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const ordersTable = `
	CREATE TABLE IF NOT EXISTS orders (
		id CHAR(36) PRIMARY KEY,
		merchant_transaction_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		cart_id VARCHAR(64) NOT NULL,
		address VARCHAR(512) NOT NULL,
		city VARCHAR(128) NOT NULL,
		pincode VARCHAR(16) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		notes VARCHAR(512) NOT NULL DEFAULT '',
		order_status VARCHAR(20) NOT NULL,
		payment_status VARCHAR(20) NOT NULL,
		payment_method VARCHAR(20) NOT NULL,
		total_amount DECIMAL(12,2) NOT NULL,
		gateway_transaction_id VARCHAR(64) NOT NULL DEFAULT '',
		transaction_details JSON NULL,
		order_date DATETIME(3) NOT NULL,
		last_updated DATETIME(3) NOT NULL,
		UNIQUE KEY uq_orders_merchant_transaction_id (merchant_transaction_id),
		KEY idx_orders_user_id (user_id),
		KEY idx_orders_pending (payment_status, order_date)
	);
`

const orderItemsTable = `
	CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		image VARCHAR(1024) NOT NULL DEFAULT '',
		price DECIMAL(12,2) NOT NULL,
		quantity INT NOT NULL,
		size VARCHAR(32) NOT NULL DEFAULT '',
		color_name VARCHAR(64) NOT NULL DEFAULT '',
		color_code VARCHAR(16) NOT NULL DEFAULT '',
		color_image VARCHAR(1024) NOT NULL DEFAULT '',
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);
`

// AutoMigrate creates the order tables on every shard if they do not exist.
func AutoMigrate(ctx context.Context, retries int, dbs ...*sql.DB) error {
	for _, query := range []string{ordersTable, orderItemsTable} {
		for i, db := range dbs {
			if err := execWithRetry(ctx, db, query, retries); err != nil {
				return fmt.Errorf("migrate shard %d: %w", i, err)
			}
		}
	}
	return nil
}

func execWithRetry(ctx context.Context, db *sql.DB, query string, retries int) error {
	_, err := db.ExecContext(ctx, query)
	for i := 0; err != nil && i < retries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		_, err = db.ExecContext(ctx, query)
	}
	return err
}
