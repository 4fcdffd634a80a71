package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrTooManyTasks - превышено максимальное количество активных задач.
	ErrTooManyTasks = errors.New("too many active tasks")
	// ErrTaskInProgress - задача с этим ключом еще выполняется.
	ErrTaskInProgress = errors.New("task with this key is still running")
	// ErrShuttingDown - менеджер больше не принимает задачи.
	ErrShuttingDown = errors.New("task manager is shutting down")
	// ErrTaskNotFound - задача с этим ключом неизвестна.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskStatus представляет статус задачи
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task - снимок состояния фоновой задачи.
type Task struct {
	Key       string
	Kind      string
	Status    TaskStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskFunc выполняется в отдельной горутине на контексте, отвязанном от запроса.
type TaskFunc func(ctx context.Context) error

// SubmitOptions - необязательные параметры задачи.
type SubmitOptions struct {
	// OnFinish вызывается после того, как итоговый статус задачи записан.
	OnFinish func()
}

// SubmitOption настраивает SubmitOptions.
type SubmitOption func(*SubmitOptions)

// WithOnFinish задает функцию, которая выполнится после записи итогового статуса.
// К этому моменту задача с тем же ключом уже может быть запущена снова.
func WithOnFinish(fn func()) SubmitOption {
	return func(o *SubmitOptions) { o.OnFinish = fn }
}

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// TaskManager запускает фоновые задачи, ключом служит id истории.
// Отмены нет: задача либо доходит до конца, либо процесс завершается.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	maxTasks int
	active   int
	closing  chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// New создает новый экземпляр TaskManager
func New(cfg Config) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:    make(map[string]*Task),
		maxTasks: maxTasks,
		closing:  make(chan struct{}),
	}
}

// SubmitTask создает и запускает задачу. Логгер zerolog переносится из ctx,
// а отмена ctx на задачу не влияет. Если задача не принята, OnFinish не вызывается.
func (tm *TaskManager) SubmitTask(ctx context.Context, key, kind string, fn TaskFunc, opts ...SubmitOption) error {
	var options SubmitOptions
	for _, opt := range opts {
		opt(&options)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	select {
	case <-tm.closing:
		return ErrShuttingDown
	default:
	}

	if existing, ok := tm.tasks[key]; ok && existing.Status == TaskStatusRunning {
		return fmt.Errorf("%w: %s", ErrTaskInProgress, key)
	}
	if tm.active >= tm.maxTasks {
		return ErrTooManyTasks
	}

	taskCtx := log.Ctx(ctx).With().Str("task_key", key).Str("task_kind", kind).Logger().
		WithContext(context.WithoutCancel(ctx))

	now := time.Now()
	task := &Task{
		Key:       key,
		Kind:      kind,
		Status:    TaskStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tm.tasks[key] = task
	tm.active++

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		tm.runTask(taskCtx, task, fn)
		if options.OnFinish != nil {
			options.OnFinish()
		}
	}()
	return nil
}

func (tm *TaskManager) runTask(ctx context.Context, task *Task, fn TaskFunc) {
	logger := log.Ctx(ctx)
	logger.Info().Msg("task started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn(ctx)
	}()

	tm.mu.Lock()
	tm.active--
	task.UpdatedAt = time.Now()
	elapsed := task.UpdatedAt.Sub(task.CreatedAt)
	if err != nil {
		task.Status = TaskStatusFailed
		task.Message = err.Error()
	} else {
		task.Status = TaskStatusCompleted
	}
	tm.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("task failed")
		return
	}
	logger.Info().Dur("elapsed", elapsed).Msg("task completed")
}

// GetTask возвращает копию состояния задачи по ключу.
func (tm *TaskManager) GetTask(key string) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[key]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, key)
	}
	return *task, nil
}

// ActiveTasks возвращает число выполняющихся задач.
func (tm *TaskManager) ActiveTasks() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.active
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, task := range tm.tasks {
		if task.Status != TaskStatusRunning && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, key)
			removed++
		}
	}
	return removed
}

// Shutdown перестает принимать задачи и ждет завершения текущих до дедлайна ctx.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.once.Do(func() {
		tm.mu.Lock()
		close(tm.closing)
		tm.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for %d tasks: %w", tm.ActiveTasks(), ctx.Err())
	}
}
