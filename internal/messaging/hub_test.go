package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storytime-server/internal/model"
)

func TestStatusHubDeliversToStorySubscribers(t *testing.T) {
	hub := NewStatusHub(4, zap.NewNop())
	storyID := uuid.New()
	other := uuid.New()

	sub := hub.Subscribe(storyID)
	defer sub.Close()
	otherSub := hub.Subscribe(other)
	defer otherSub.Close()

	ev := NewStoryStatusEvent(storyID, "u1", model.StatusGenerating, "", time.Now())
	require.NoError(t, hub.NotifyStatus(context.Background(), ev))

	select {
	case got := <-sub.C:
		assert.Equal(t, model.StatusGenerating, got.Status)
		assert.Equal(t, 35, got.ProgressPercent)
	default:
		t.Fatal("expected event for subscriber")
	}
	assert.Len(t, otherSub.C, 0)
}

func TestStatusHubDropsForLaggingSubscriber(t *testing.T) {
	hub := NewStatusHub(1, zap.NewNop())
	storyID := uuid.New()
	sub := hub.Subscribe(storyID)
	defer sub.Close()

	ctx := context.Background()
	require.NoError(t, hub.NotifyStatus(ctx, NewStoryStatusEvent(storyID, "", model.StatusGenerating, "", time.Now())))
	require.NoError(t, hub.NotifyStatus(ctx, NewStoryStatusEvent(storyID, "", model.StatusProcessing, "", time.Now())))

	got := <-sub.C
	assert.Equal(t, model.StatusGenerating, got.Status)
	assert.Len(t, sub.C, 0)
}

func TestSubscriptionClose(t *testing.T) {
	hub := NewStatusHub(0, zap.NewNop())
	storyID := uuid.New()
	sub := hub.Subscribe(storyID)
	assert.Equal(t, 1, hub.Subscribers(storyID))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers(storyID))

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.NoError(t, hub.NotifyStatus(context.Background(), NewStoryStatusEvent(storyID, "", model.StatusCompleted, "", time.Now())))
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) NotifyStatus(context.Context, StoryStatusEvent) error {
	f.calls++
	return errors.New("broker down")
}

func TestMultiNotifierContinuesAfterError(t *testing.T) {
	hub := NewStatusHub(2, zap.NewNop())
	storyID := uuid.New()
	sub := hub.Subscribe(storyID)
	defer sub.Close()

	failing := &failingNotifier{}
	n := MultiNotifier{failing, hub}

	err := n.NotifyStatus(context.Background(), NewStoryStatusEvent(storyID, "", model.StatusFailed, "boom", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, failing.calls)

	got := <-sub.C
	assert.Equal(t, "boom", got.Error)
}
