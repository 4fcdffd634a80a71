package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var attemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total number of attempts made by the retry executor, by operation label and outcome.",
	},
	[]string{"label", "outcome"},
)

// Policy описывает правила повторных попыток.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable решает, можно ли повторить после ошибки. nil - повторять всегда.
	Retryable func(error) bool
}

// Delay возвращает паузу после неудачной попытки attempt (нумерация с 1):
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// SleepFunc ждет d или отмены контекста.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor выполняет операции с повторными попытками и пишет лог по каждой попытке.
type Executor struct {
	logger *zap.Logger
	sleep  SleepFunc
}

// NewExecutor создает Executor. sleep может быть nil, тогда используется таймер.
func NewExecutor(logger *zap.Logger, sleep SleepFunc) *Executor {
	if sleep == nil {
		sleep = timerSleep
	}
	return &Executor{logger: logger.Named("Retry"), sleep: sleep}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute вызывает op до policy.MaxAttempts раз. Неповторяемая ошибка прерывает цикл сразу,
// после исчерпания попыток возвращается последняя ошибка.
func Execute[T any](ctx context.Context, e *Executor, label string, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.attempts()
	log := e.logger.With(zap.String("label", label), zap.Int("max_attempts", maxAttempts))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		result, err := op(ctx)
		if err == nil {
			attemptsTotal.WithLabelValues(label, "success").Inc()
			log.Debug("Attempt succeeded",
				zap.Int("attempt", attempt),
				zap.Duration("duration", time.Since(start)),
			)
			return result, nil
		}
		lastErr = err

		if !policy.retryable(err) {
			attemptsTotal.WithLabelValues(label, "fatal").Inc()
			log.Warn("Attempt failed with non-retryable error",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, err
		}

		attemptsTotal.WithLabelValues(label, "retryable").Inc()
		if attempt == maxAttempts {
			log.Error("All attempts failed", zap.Int("attempt", attempt), zap.Error(err))
			break
		}

		delay := policy.Delay(attempt)
		log.Warn("Attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("%s: retry interrupted after attempt %d: %w", label, attempt, err)
		}
	}

	return zero, lastErr
}

// Do - вариант Execute для операций без результата.
func Do(ctx context.Context, e *Executor, label string, policy Policy, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, label, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
