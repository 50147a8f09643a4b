// Package dbtest opens throwaway SQLite databases carrying the marketplace schema.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/angelmondragon/flashmart-backend/pkg/db"
)

var schema = []string{
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE flash_deals (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		seller_id TEXT NOT NULL,
		original_price_cents INTEGER NOT NULL,
		deal_price_cents INTEGER NOT NULL,
		discount_percentage INTEGER NOT NULL,
		quantity_available INTEGER NOT NULL,
		quantity_sold INTEGER NOT NULL DEFAULT 0,
		starts_at DATETIME NOT NULL,
		ends_at DATETIME NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME,
		deleted_at DATETIME,
		CHECK (quantity_sold >= 0),
		CHECK (quantity_sold <= quantity_available),
		CHECK (deal_price_cents < original_price_cents),
		CHECK (ends_at > starts_at)
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		checkout_group_id TEXT,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		deal_id TEXT,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents INTEGER NOT NULL,
		deal_price_cents INTEGER,
		total_amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		delivery_address TEXT NOT NULL,
		status TEXT NOT NULL,
		tracking_number TEXT,
		shipped_at DATETIME,
		delivered_at DATETIME,
		buyer_confirmed_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME,
		disputed_at DATETIME,
		delivery_photo_url TEXT,
		delivery_photo_uploaded_at DATETIME,
		signer_name TEXT,
		signature_image TEXT,
		signature_digest TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_orders_order_number ON orders(order_number)`,
	`CREATE TABLE escrow_records (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		state TEXT NOT NULL,
		release_trigger TEXT,
		held_at DATETIME NOT NULL,
		released_at DATETIME,
		refunded_at DATETIME,
		disputed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_escrow_records_order_id ON escrow_records(order_id)`,
	`CREATE TABLE escrow_events (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		from_state TEXT,
		to_state TEXT NOT NULL,
		"trigger" TEXT,
		amount_cents INTEGER NOT NULL,
		occurred_at DATETIME NOT NULL
	)`,
	`CREATE TABLE delivery_assignments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		agent_id TEXT,
		claimed_at DATETIME,
		ready_for_pickup BOOLEAN NOT NULL DEFAULT 0,
		ready_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_delivery_assignments_order_id ON delivery_assignments(order_id)`,
	`CREATE TABLE disputes (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		description TEXT NOT NULL,
		from_status TEXT NOT NULL,
		status TEXT NOT NULL,
		resolution TEXT,
		resolved_by TEXT,
		resolution_note TEXT,
		resolved_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_disputes_order_id ON disputes(order_id)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		topic TEXT,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL,
		failed_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_outbox_dlq_event_id ON outbox_dlq(event_id)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		order_id TEXT,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT,
		read_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_notifications_event_recipient ON notifications(event_id, recipient_id)`,
}

// Open returns a fresh in-memory database with every table created. Each call gets its own
// database so tests can run in parallel.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:fm_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection serialises writers the same way row locks would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// OpenClient wraps Open in the db.Client used by services.
func OpenClient(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}
