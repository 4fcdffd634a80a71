//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storytime-server/internal/database"
	"storytime-server/internal/model"
	pkgdb "storytime-server/pkg/database"
	"storytime-server/pkg/migration"
)

type PostgresRepositorySuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	logger      *zap.Logger
}

func (s *PostgresRepositorySuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("storytime_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pool, err = pkgdb.NewPool(s.ctx, pkgdb.Config{DSN: connStr, MaxConns: 4}, s.logger)
	require.NoError(s.T(), err)

	migrator := migration.NewMigrator(migration.Config{
		MigrationsFS:   database.MigrationsFS,
		MigrationsPath: database.MigrationsPath,
	}, s.pool, s.logger)
	require.NoError(s.T(), migrator.Up(s.ctx))

	version, dirty, err := migrator.Version(s.ctx)
	require.NoError(s.T(), err)
	require.False(s.T(), dirty)
	require.Equal(s.T(), uint(1), version)
}

func (s *PostgresRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *PostgresRepositorySuite) TestContract() {
	runStoryRepositoryContract(s.T(), NewPgStoryRepository(s.pool, s.logger))
}

func (s *PostgresRepositorySuite) TestTransactionRollback() {
	id := uuid.New()
	errAbort := errors.New("abort")

	err := pkgdb.ExecuteInTransaction(s.ctx, s.pool, func(tx pgx.Tx) error {
		repo := NewPgStoryRepository(tx, s.logger)
		rec := &model.StoryRecord{ID: id, Status: model.StatusDraft, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
		if err := repo.Create(s.ctx, rec); err != nil {
			return err
		}
		return errAbort
	})
	s.Require().ErrorIs(err, errAbort)

	_, err = NewPgStoryRepository(s.pool, s.logger).GetByID(s.ctx, id)
	s.ErrorIs(err, model.ErrNotFound)
}

func TestPostgresRepositorySuite(t *testing.T) {
	suite.Run(t, new(PostgresRepositorySuite))
}
