package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storytime-server/internal/model"
)

// StoryRepository - документное хранилище историй. Семантика last-write-wins,
// транзакции между шагами пайплайна не требуются.
type StoryRepository interface {
	// Create сохраняет новую запись. ID должен быть уже назначен.
	Create(ctx context.Context, rec *model.StoryRecord) error
	// Update применяет частичное обновление. completed_at устанавливается только один раз.
	Update(ctx context.Context, id uuid.UUID, patch model.StoryPatch) error
	// GetByID возвращает model.ErrNotFound для неизвестного id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.StoryRecord, error)
}

// DBTX - общий интерфейс для pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const storyColumns = `id, user_id, status, title, content, character_names, user_input, media, metadata, error, created_at, updated_at, completed_at`

// updateBuilder собирает UPDATE из патча. Плейсхолдеры и кодирование значений
// зависят от драйвера.
type updateBuilder struct {
	placeholder func(n int) string
	jsonValue   func(b []byte) any
	namesValue  func(names []string) (any, error)
	timeValue   func(t time.Time) any
}

func (b updateBuilder) build(id uuid.UUID, patch model.StoryPatch, now time.Time) (string, []any, error) {
	sets := make([]string, 0, 10)
	args := make([]any, 0, 10)
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, b.placeholder(len(args))))
	}

	if patch.Status != nil {
		add("status = %s", string(*patch.Status))
	}
	if patch.Title != nil {
		add("title = %s", *patch.Title)
	}
	if patch.Content != nil {
		add("content = %s", *patch.Content)
	}
	if patch.CharacterNames != nil {
		v, err := b.namesValue(patch.CharacterNames)
		if err != nil {
			return "", nil, err
		}
		add("character_names = %s", v)
	}
	if patch.Media != nil {
		data, err := json.Marshal(patch.Media)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal media: %w", err)
		}
		add("media = %s", b.jsonValue(data))
	}
	if patch.Metadata != nil {
		data, err := json.Marshal(patch.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		add("metadata = %s", b.jsonValue(data))
	}
	switch {
	case patch.Error != nil:
		add("error = %s", *patch.Error)
	case patch.ClearError:
		sets = append(sets, "error = NULL")
	}
	if patch.CompletedAt != nil {
		add("completed_at = COALESCE(completed_at, %s)", b.timeValue(*patch.CompletedAt))
	}
	add("updated_at = %s", b.timeValue(now))

	args = append(args, id)
	query := fmt.Sprintf("UPDATE stories SET %s WHERE id = %s", strings.Join(sets, ", "), b.placeholder(len(args)))
	return query, args, nil
}
