package lock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storytime-server/internal/model"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl, "test:", zap.NewNop()), s
}

func testLockerExclusive(t *testing.T, l Locker) {
	ctx := context.Background()
	id := uuid.New()

	release, err := l.Acquire(ctx, id)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, id)
	assert.ErrorIs(t, err, model.ErrStoryBusy)

	other, err := l.Acquire(ctx, uuid.New())
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, id)
	require.NoError(t, err)
	again()
}

func TestMemoryLocker(t *testing.T) {
	testLockerExclusive(t, NewMemoryLocker())
}

func TestRedisLocker(t *testing.T) {
	l, _ := newTestRedisLocker(t, time.Minute)
	testLockerExclusive(t, l)
}

func TestRedisLockerExpiredLeaseIsNotStolenBack(t *testing.T) {
	l, s := newTestRedisLocker(t, time.Second)
	ctx := context.Background()
	id := uuid.New()

	stale, err := l.Acquire(ctx, id)
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, id)
	require.NoError(t, err)

	// Старый владелец не должен снять чужую аренду.
	stale()
	assert.True(t, s.Exists("test:"+id.String()))

	fresh()
	assert.False(t, s.Exists("test:"+id.String()))
}

func TestRedisLockerSetsTTL(t *testing.T) {
	l, s := newTestRedisLocker(t, 15*time.Minute)
	id := uuid.New()

	release, err := l.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer release()

	assert.Equal(t, 15*time.Minute, s.TTL("test:"+id.String()))
}

func TestRedisLockerKeepsLeaseAlive(t *testing.T) {
	l, s := newTestRedisLocker(t, 300*time.Millisecond)
	id := uuid.New()
	key := "test:" + id.String()

	release, err := l.Acquire(context.Background(), id)
	require.NoError(t, err)

	// Прогон дольше ttl: аренда должна продлеваться, пока ее держат.
	s.SetTTL(key, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		return s.TTL(key) == 300*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	release()
	assert.False(t, s.Exists(key))
}

func TestRedisLockerStopsExtendingForeignLease(t *testing.T) {
	l, s := newTestRedisLocker(t, 300*time.Millisecond)
	id := uuid.New()
	key := "test:" + id.String()

	release, err := l.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer release()

	require.NoError(t, s.Set(key, "someone-else"))
	s.SetTTL(key, time.Minute)
	time.Sleep(250 * time.Millisecond)

	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
	assert.Equal(t, time.Minute, s.TTL(key))
}
