package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"storytime-server/internal/model"
)

// ReleaseFunc снимает аренду. Повторный вызов безопасен.
type ReleaseFunc func()

// Locker выдает аренду на запуск пайплайна для одной истории.
// Если аренда уже занята, Acquire возвращает model.ErrStoryBusy.
type Locker interface {
	Acquire(ctx context.Context, storyID uuid.UUID) (ReleaseFunc, error)
}

var _ Locker = (*MemoryLocker)(nil)

// MemoryLocker - аренда в пределах одного процесса.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uuid.UUID]struct{})}
}

func (l *MemoryLocker) Acquire(ctx context.Context, storyID uuid.UUID) (ReleaseFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[storyID]; busy {
		return nil, model.ErrStoryBusy
	}
	l.held[storyID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, storyID)
			l.mu.Unlock()
		})
	}, nil
}
