package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/migrate"
)

// PostgresDSNEnv names the database used by integration tests. It must point
// at a disposable database; migrations run against it.
const PostgresDSNEnv = "MARCHE_TEST_POSTGRES_DSN"

// OpenPostgres connects to the database named by PostgresDSNEnv and migrates
// it up. The test is skipped when the variable is unset.
func OpenPostgres(t *testing.T) *db.Client {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(PostgresDSNEnv))
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}

	ctx := context.Background()
	client, err := db.New(ctx, config.DBConfig{DSN: dsn, Driver: "postgres"}, logger.Nop())
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.DB().DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	if err := migrate.RunEmbedded(ctx, sqlDB, "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return client
}
