package database

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

func newMigrator(db *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, logger *zap.Logger) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn("Failed to close migration source", zap.Error(srcErr))
	}
	if dbErr != nil {
		logger.Warn("Failed to close migration database", zap.Error(dbErr))
	}
}

// RunMigrations applies any pending migrations under migrationsPath.
// Rerunning is safe; migrate tracks the applied version in schema_migrations.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)

	err = m.Up()
	if err == migrate.ErrNoChange {
		logger.Info("Schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations", zap.Uint("version", newVersion))
	return nil
}

// RecreateSchema drops everything in the target database and reapplies all
// migrations. Backs the create-db CLI command; the server never calls it.
func RecreateSchema(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}

	if err := m.Drop(); err != nil {
		closeMigrator(m, logger)
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	closeMigrator(m, logger)
	logger.Info("Dropped existing schema")

	// Drop removes the schema_migrations table, so a fresh instance is needed.
	m2, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	defer closeMigrator(m2, logger)

	if err := m2.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m2.Version()
	logger.Info("Rebuilt schema", zap.Uint("version", newVersion))
	return nil
}
