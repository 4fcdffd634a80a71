package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const defaultTable = "schema_migrations"

// ErrDirtySchema - предыдущая миграция оборвалась, схему нужно чинить вручную.
var ErrDirtySchema = errors.New("database schema is dirty")

// Config содержит настройки для миграций
type Config struct {
	MigrationsPath string
	MigrationsFS   fs.FS
	// Table - таблица версий. Пусто - schema_migrations.
	Table       string
	LockTimeout time.Duration
}

// Migrator применяет встроенные миграции к PostgreSQL
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewMigrator(config Config, pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	if config.LockTimeout <= 0 {
		config.LockTimeout = 30 * time.Second
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	return &Migrator{
		config: config,
		pool:   pool,
		logger: logger.Named("Migrator"),
	}
}

// Up применяет все доступные миграции. Грязная схема не трогается.
func (m *Migrator) Up(ctx context.Context) error {
	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	from, dirty, err := currentVersion(mg)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w: version %d", ErrDirtySchema, from)
	}

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("Database schema is up to date", zap.Uint("version", from))
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	to, _, err := currentVersion(mg)
	if err != nil {
		return err
	}
	m.logger.Info("Database migrations applied", zap.Uint("from_version", from), zap.Uint("to_version", to))
	return nil
}

// Version возвращает текущую версию схемы и признак грязного состояния.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()
	return currentVersion(mg)
}

func currentVersion(mg *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) open(ctx context.Context) (*migrate.Migrate, error) {
	if err := m.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}

	driver, err := postgres.WithInstance(stdlib.OpenDBFromPool(m.pool), &postgres.Config{
		MigrationsTable:       m.config.Table,
		MigrationsTableQuoted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations source: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = m.config.LockTimeout
	mg.Log = zapMigrateLogger{logger: m.logger}
	return mg, nil
}

// zapMigrateLogger пишет вывод migrate в zap на уровне debug.
type zapMigrateLogger struct {
	logger *zap.Logger
}

func (l zapMigrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l zapMigrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
