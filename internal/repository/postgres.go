package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storytime-server/internal/model"
)

const (
	createStoryQuery = `
        INSERT INTO stories (` + storyColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	getStoryByIDQuery = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
)

var _ StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	db     DBTX
	logger *zap.Logger
	now    func() time.Time
}

// NewPgStoryRepository создает репозиторий историй поверх PostgreSQL.
func NewPgStoryRepository(db DBTX, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
		now:    time.Now,
	}
}

var pgUpdateBuilder = updateBuilder{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	jsonValue:   func(b []byte) any { return b },
	namesValue:  func(names []string) (any, error) { return names, nil },
	timeValue:   func(t time.Time) any { return t.UTC() },
}

func (r *pgStoryRepository) Create(ctx context.Context, rec *model.StoryRecord) error {
	logFields := []zap.Field{zap.String("story_id", rec.ID.String()), zap.String("status", string(rec.Status))}

	userInput, err := json.Marshal(rec.UserInput)
	if err != nil {
		return fmt.Errorf("failed to marshal user input: %w", err)
	}
	media, err := json.Marshal(rec.Media)
	if err != nil {
		return fmt.Errorf("failed to marshal media: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	names := rec.CharacterNames
	if names == nil {
		names = []string{}
	}

	_, err = r.db.Exec(ctx, createStoryQuery,
		rec.ID,
		rec.UserID,
		string(rec.Status),
		rec.Title,
		rec.Content,
		names,
		userInput,
		media,
		metadata,
		rec.Error,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		rec.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", append(logFields, zap.Error(err))...)
		return model.PersistenceError("create story", err)
	}
	r.logger.Debug("Story created", logFields...)
	return nil
}

func (r *pgStoryRepository) Update(ctx context.Context, id uuid.UUID, patch model.StoryPatch) error {
	query, args, err := pgUpdateBuilder.build(id, patch, r.now())
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update story", zap.String("story_id", id.String()), zap.Error(err))
		return model.PersistenceError("update story", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("story %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryRecord, error) {
	var rec model.StoryRecord
	if err := pgxscan.Get(ctx, r.db, &rec, getStoryByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("story %s: %w", id, model.ErrNotFound)
		}
		r.logger.Error("Failed to get story", zap.String("story_id", id.String()), zap.Error(err))
		return nil, model.PersistenceError("get story", err)
	}
	return &rec, nil
}
