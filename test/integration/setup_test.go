package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/domain/directory"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	if os.Getenv("HMS_INTEGRATION") == "" {
		fmt.Fprintln(os.Stderr, "skipping integration tests; set HMS_INTEGRATION=1 to run them")
		os.Exit(0)
	}
	ctx := context.Background()

	tdb, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupPostgres connects to TEST_DATABASE_URL when set, otherwise starts a
// throwaway container.
func setupPostgres(ctx context.Context) (*testDB, func(), error) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("start postgres container: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 10, MinConns: 1})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	return &testDB{Pool: pool, ConnStr: connStr}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// createTenantSchema creates a new tenant schema and runs all migrations.
func createTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, migrations.FS); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
}

// dropTenantSchema drops a tenant schema for cleanup.
func dropTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	schema := fmt.Sprintf("tenant_%s", tenantID)
	_, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
	if err != nil {
		t.Logf("warning: failed to drop schema %s: %v", schema, err)
	}
}

// withTenantConn runs fn with a connection scoped to the tenant schema.
func withTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	ctx, release, err := db.WithTenantConn(ctx, pool, tenantID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// newTenant creates a migrated tenant and drops it when the test ends.
func newTenant(t *testing.T, prefix string) string {
	t.Helper()
	ctx := context.Background()
	tenant := uniqueTenantID(prefix)
	createTenantSchema(t, ctx, tenant)
	t.Cleanup(func() { dropTenantSchema(t, context.Background(), tenant) })
	return tenant
}

// uniqueTenantID generates a unique tenant ID for test isolation.
func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

func registerPerson(t *testing.T, ctx context.Context, tenantID string, kind directory.Kind, id, first, last string) {
	t.Helper()
	svc := directory.NewService(directory.NewRepoPG(globalDB.Pool))
	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		return svc.Register(ctx, &directory.Person{ID: id, Kind: kind, FirstName: first, LastName: last})
	})
	if err != nil {
		t.Fatalf("register %s %s: %v", kind, id, err)
	}
}

func ptrStr(s string) *string { return &s }
