package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"newsfeed/internal/logger"
)

//go:embed migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate применяет миграции PostgreSQL из встроенных файлов.
// Для SQLite схема применяется при открытии, здесь ничего не делается.
func Migrate(dsn string) error {
	if _, ok := sqlitePath(dsn); ok {
		logger.Log.Info("SQLite store applies its schema on open, skipping migrations")
		return nil
	}

	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		logger.Log.WithFields(logger.Fields{"version": version, "dirty": dirty}).Info("Migrations applied")
	}
	return nil
}

// migrateURL переводит postgres:// в схему драйвера pgx/v5 для golang-migrate.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
