package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storytime-server/internal/model"
)

var _ StoryRepository = (*MemoryStoryRepository)(nil)

// MemoryStoryRepository хранит истории в памяти процесса. Записи копируются
// на входе и выходе, вызывающий код не может изменить хранимое состояние.
type MemoryStoryRepository struct {
	mu      sync.RWMutex
	stories map[uuid.UUID]*model.StoryRecord
	now     func() time.Time
}

// NewMemoryStoryRepository создает пустое хранилище.
func NewMemoryStoryRepository() *MemoryStoryRepository {
	return &MemoryStoryRepository{
		stories: make(map[uuid.UUID]*model.StoryRecord),
		now:     time.Now,
	}
}

func (r *MemoryStoryRepository) Create(ctx context.Context, rec *model.StoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := cloneRecord(rec)
	if err != nil {
		return model.PersistenceError("create story", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stories[rec.ID]; exists {
		return model.PersistenceError("create story", fmt.Errorf("story %s already exists", rec.ID))
	}
	r.stories[rec.ID] = cp
	return nil
}

func (r *MemoryStoryRepository) Update(ctx context.Context, id uuid.UUID, patch model.StoryPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.stories[id]
	if !ok {
		return fmt.Errorf("story %s: %w", id, model.ErrNotFound)
	}
	// Патч может содержать указатели вызывающего кода.
	if patch.Media != nil {
		m, err := cloneValue(*patch.Media)
		if err != nil {
			return model.PersistenceError("update story", err)
		}
		patch.Media = &m
	}
	if patch.Metadata != nil {
		m, err := cloneValue(*patch.Metadata)
		if err != nil {
			return model.PersistenceError("update story", err)
		}
		patch.Metadata = &m
	}
	patch.Apply(rec, r.now().UTC())
	return nil
}

func (r *MemoryStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", id, model.ErrNotFound)
	}
	cp, err := cloneRecord(rec)
	if err != nil {
		return nil, model.PersistenceError("get story", err)
	}
	return cp, nil
}

func cloneRecord(rec *model.StoryRecord) (*model.StoryRecord, error) {
	cp, err := cloneValue(*rec)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func cloneValue[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to copy value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to copy value: %w", err)
	}
	return out, nil
}
