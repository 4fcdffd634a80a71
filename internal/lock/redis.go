package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storytime-server/internal/model"
)

const releaseTimeout = 5 * time.Second

// releaseScript удаляет ключ только если в нем наш токен.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript продлевает ключ только если в нем наш токен.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ Locker = (*RedisLocker)(nil)

// RedisLocker - аренда через SET NX PX, общая для всех реплик сервиса.
// Пока аренда не снята, она продлевается на ttl каждые ttl/3.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisLocker создает арендатора. ttl ограничивает аренду, если процесс умер, не сняв ее.
func NewRedisLocker(client *redis.Client, ttl time.Duration, prefix string, logger *zap.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "storytime:lease:"
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.Named("RedisLocker"),
	}
}

func (l *RedisLocker) key(storyID uuid.UUID) string {
	return l.prefix + storyID.String()
}

func (l *RedisLocker) Acquire(ctx context.Context, storyID uuid.UUID) (ReleaseFunc, error) {
	key := l.key(storyID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug("Lease is held by another run", zap.String("story_id", storyID.String()))
		return nil, model.ErrStoryBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(key, token, storyID, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lease", zap.String("story_id", storyID.String()), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive продлевает аренду до закрытия stop. Если ключ уже чужой, продление прекращается.
func (l *RedisLocker) keepAlive(key, token string, storyID uuid.UUID, stop <-chan struct{}) {
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		extended, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.logger.Warn("Failed to extend lease", zap.String("story_id", storyID.String()), zap.Error(err))
			continue
		}
		if extended == 0 {
			l.logger.Warn("Lease was lost before release", zap.String("story_id", storyID.String()))
			return
		}
	}
}

// NewRedisClient разбирает URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("Connected to Redis", zap.String("address", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}
