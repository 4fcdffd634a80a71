package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"storytime-server/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stories (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL DEFAULT '',
    character_names TEXT NOT NULL DEFAULT '[]',
    user_input      TEXT NOT NULL DEFAULT '{}',
    media           TEXT NOT NULL DEFAULT '{}',
    metadata        TEXT NOT NULL DEFAULT '{}',
    error           TEXT,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    completed_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_stories_user_id ON stories (user_id);
`

var _ StoryRepository = (*SQLiteStoryRepository)(nil)

// SQLiteStoryRepository - однофайловое хранилище для локального запуска.
// JSON-поля и время хранятся текстом.
type SQLiteStoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite открывает (или создает) базу по пути и применяет схему.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStoryRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// Один писатель: sqlite не любит конкурентные записи.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
		}
	}

	logger.Info("SQLite story store opened", zap.String("path", path))
	return &SQLiteStoryRepository{
		db:     db,
		logger: logger.Named("SQLiteStoryRepo"),
		now:    time.Now,
	}, nil
}

// Close закрывает базу.
func (r *SQLiteStoryRepository) Close() error {
	return r.db.Close()
}

var sqliteUpdateBuilder = updateBuilder{
	placeholder: func(int) string { return "?" },
	jsonValue:   func(b []byte) any { return string(b) },
	namesValue: func(names []string) (any, error) {
		data, err := json.Marshal(names)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal character names: %w", err)
		}
		return string(data), nil
	},
	timeValue: func(t time.Time) any { return formatTime(t) },
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (r *SQLiteStoryRepository) Create(ctx context.Context, rec *model.StoryRecord) error {
	names := rec.CharacterNames
	if names == nil {
		names = []string{}
	}
	values := make([]string, 0, 4)
	for _, v := range []any{names, rec.UserInput, rec.Media, rec.Metadata} {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal story fields: %w", err)
		}
		values = append(values, string(data))
	}

	var completedAt *string
	if rec.CompletedAt != nil {
		s := formatTime(*rec.CompletedAt)
		completedAt = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stories (`+storyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID, string(rec.Status), rec.Title, rec.Content,
		values[0], values[1], values[2], values[3],
		rec.Error, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), completedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", zap.String("story_id", rec.ID.String()), zap.Error(err))
		return model.PersistenceError("create story", err)
	}
	return nil
}

func (r *SQLiteStoryRepository) Update(ctx context.Context, id uuid.UUID, patch model.StoryPatch) error {
	query, args, err := sqliteUpdateBuilder.build(id, patch, r.now())
	if err != nil {
		return err
	}
	// uuid.UUID реализует driver.Valuer, но храним id строкой явно.
	args[len(args)-1] = id.String()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update story", zap.String("story_id", id.String()), zap.Error(err))
		return model.PersistenceError("update story", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.PersistenceError("update story", err)
	}
	if n == 0 {
		return fmt.Errorf("story %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (r *SQLiteStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id.String())

	var (
		rawID, status, names, userInput, media, metadata string
		createdAt, updatedAt                             string
		errMsg, completedAt                              sql.NullString
		rec                                              model.StoryRecord
	)
	err := row.Scan(&rawID, &rec.UserID, &status, &rec.Title, &rec.Content,
		&names, &userInput, &media, &metadata, &errMsg, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("story %s: %w", id, model.ErrNotFound)
		}
		return nil, model.PersistenceError("get story", err)
	}

	if rec.ID, err = uuid.Parse(rawID); err != nil {
		return nil, model.PersistenceError("decode story id", err)
	}
	rec.Status = model.StoryStatus(status)
	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"character_names", names, &rec.CharacterNames},
		{"user_input", userInput, &rec.UserInput},
		{"media", media, &rec.Media},
		{"metadata", metadata, &rec.Metadata},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, model.PersistenceError("decode "+col.name, err)
		}
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, model.PersistenceError("decode created_at", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, model.PersistenceError("decode updated_at", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, model.PersistenceError("decode completed_at", err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}
