package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
	require.NoError(t, migrate.ValidateEmbedded())
}

func TestOrdersMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_orders.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS order_counters",
		"next_counter_order_number bigint NOT NULL DEFAULT 101",
		"next_walkup_order_number bigint NOT NULL DEFAULT 1",
		"CREATE TABLE IF NOT EXISTS orders",
		"created_at timestamptz NOT NULL DEFAULT clock_timestamp()",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_store_channel_epoch_number",
		"DROP TABLE IF EXISTS orders",
	}
	for _, sub := range checks {
		assert.Contains(t, content, sub)
	}
}

func TestPaymentCapturesAreUniquePerOrder(t *testing.T) {
	content := readMigration(t, "*_create_payment_captures.sql")
	assert.Contains(t, content, "CONSTRAINT payment_captures_order_id_key UNIQUE (order_id)")
}

func TestEnumMigrationCoversOrderStatuses(t *testing.T) {
	content := readMigration(t, "*_create_order_enums.sql")
	for _, status := range []string{"'new'", "'paid'", "'completed'", "'cancelled'", "'archived'"} {
		assert.Contains(t, content, status)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Receipt Index")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_receipt_index.sql"))
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	require.Error(t, err)
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}

func TestCreateSQLMigrationKeepsVersionsIncreasing(t *testing.T) {
	dir := t.TempDir()
	first, err := migrate.CreateSQLMigration(dir, "first")
	require.NoError(t, err)
	second, err := migrate.CreateSQLMigration(dir, "second")
	require.NoError(t, err)

	assert.Less(t, filepath.Base(first)[:14], filepath.Base(second)[:14])
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestValidateDirRequiresDownSection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_up_only.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644))
	err := migrate.ValidateDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+goose Down")
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}
