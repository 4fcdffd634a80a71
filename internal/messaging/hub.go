package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSubscriptionBuffer = 16

// StatusHub раздает события статуса подписчикам конкретной истории внутри процесса.
// Медленный подписчик теряет события, публикующий никогда не блокируется.
type StatusHub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	buffer int
	logger *zap.Logger
}

var _ Notifier = (*StatusHub)(nil)

// Subscription - подписка на события одной истории. C закрывается после Close.
type Subscription struct {
	StoryID uuid.UUID
	C       <-chan StoryStatusEvent

	ch   chan StoryStatusEvent
	hub  *StatusHub
	once sync.Once
}

// NewStatusHub создает хаб. buffer - размер очереди каждого подписчика.
func NewStatusHub(buffer int, logger *zap.Logger) *StatusHub {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &StatusHub{
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.Named("StatusHub"),
	}
}

// Subscribe регистрирует нового подписчика истории.
func (h *StatusHub) Subscribe(storyID uuid.UUID) *Subscription {
	ch := make(chan StoryStatusEvent, h.buffer)
	sub := &Subscription{StoryID: storyID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	set, ok := h.subs[storyID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[storyID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Status subscriber added", zap.String("story_id", storyID.String()))
	return sub
}

// Subscribers возвращает число активных подписчиков истории.
func (h *StatusHub) Subscribers(storyID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[storyID])
}

// NotifyStatus рассылает событие всем подписчикам истории.
func (h *StatusHub) NotifyStatus(_ context.Context, event StoryStatusEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.StoryID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("Status subscriber is lagging, event dropped",
				zap.String("story_id", event.StoryID.String()),
				zap.String("status", string(event.Status)))
		}
	}
	return nil
}

// Close отписывает подписчика. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.StoryID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.StoryID)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

// MultiNotifier публикует событие во все вложенные нотификаторы.
// Ошибка одного не мешает остальным.
type MultiNotifier []Notifier

var _ Notifier = MultiNotifier(nil)

func (m MultiNotifier) NotifyStatus(ctx context.Context, event StoryStatusEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyStatus(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
