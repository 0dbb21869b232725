// Package dbtest opens throwaway sqlite databases carrying the order schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
)

var schema = []string{
	`CREATE TABLE stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		current_event_name TEXT,
		stripe_account_id TEXT,
		invoice_number TEXT,
		auto_close_enabled BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_counters (
		store_id TEXT PRIMARY KEY,
		next_counter_order_number INTEGER NOT NULL DEFAULT 101,
		next_walkup_order_number INTEGER NOT NULL DEFAULT 1,
		epoch INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		order_number INTEGER NOT NULL,
		channel TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		items TEXT NOT NULL,
		total_price INTEGER NOT NULL,
		status TEXT NOT NULL,
		customer_ref TEXT,
		event_name TEXT,
		paid_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f+00:00', 'now')),
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX idx_orders_store_channel_epoch_number ON orders (store_id, channel, epoch, order_number)`,
	`CREATE TABLE payment_captures (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		store_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_ref TEXT NOT NULL,
		event_id TEXT,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		captured_at DATETIME NOT NULL
	)`,
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
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME
	)`,
}

// Open returns a client over a private in-memory database. A single
// connection serializes transactions the way row locks do on postgres.
func Open(t *testing.T) *db.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db.FromGorm(conn)
}

// SeedStore inserts a store row and returns it.
func SeedStore(t *testing.T, client *db.Client, name string) models.Store {
	t.Helper()
	store := models.Store{ID: uuid.New(), Name: name}
	if err := client.DB().Create(&store).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}
