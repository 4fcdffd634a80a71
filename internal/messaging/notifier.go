package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storytime-server/internal/model"
)

// StoryStatusEvent - событие смены статуса истории.
type StoryStatusEvent struct {
	StoryID         uuid.UUID         `json:"storyId"`
	UserID          string            `json:"userId,omitempty"`
	Status          model.StoryStatus `json:"status"`
	ProgressPercent int               `json:"progressPercent"`
	Error           string            `json:"error,omitempty"`
	At              time.Time         `json:"at"`
}

// NewStoryStatusEvent строит событие по текущему статусу.
func NewStoryStatusEvent(storyID uuid.UUID, userID string, status model.StoryStatus, errMsg string, at time.Time) StoryStatusEvent {
	return StoryStatusEvent{
		StoryID:         storyID,
		UserID:          userID,
		Status:          status,
		ProgressPercent: model.ProgressPercent(status),
		Error:           errMsg,
		At:              at.UTC(),
	}
}

// Notifier публикует события статуса. Ошибки публикации не должны влиять на пайплайн.
type Notifier interface {
	NotifyStatus(ctx context.Context, event StoryStatusEvent) error
}

// NopNotifier используется, когда публиковать некуда.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) NotifyStatus(context.Context, StoryStatusEvent) error { return nil }
