package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/database"
)

// TestImage is the PostgreSQL image integration tests run against.
const TestImage = "postgres:16-alpine"

// EngineDB holds a shared test database with migrations applied.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared migrated PostgreSQL database for integration
// tests. The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("integration test requires Docker; skipped with -short")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        TestImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "empi_test",
			"POSTGRES_USER":     "empi",
			"POSTGRES_PASSWORD": "empi_test_pw",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://empi:empi_test_pw@%s:%s/empi_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, connStr, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	// golang-migrate drives a database/sql handle, not the pgx pool.
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// migrationsDir resolves the repository's migrations directory from this
// file's location so tests can run from any package directory.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
