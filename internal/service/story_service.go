package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"storytime-server/internal/lock"
	"storytime-server/internal/messaging"
	"storytime-server/internal/model"
	"storytime-server/internal/pipeline"
	"storytime-server/internal/provider"
	"storytime-server/internal/repository"
	"storytime-server/pkg/taskmanager"
)

// Типы фоновых задач
const (
	TaskKindGeneration   = "generation"
	TaskKindContinuation = "continuation"
	TaskKindRegeneration = "regeneration"
)

const defaultLanguage = "en"

// Runner выполняет прогоны пайплайна. Реализуется pipeline.Orchestrator.
type Runner interface {
	RunGeneration(ctx context.Context, rc *pipeline.RunContext) error
	RunContinuation(ctx context.Context, req pipeline.ContinuationRequest) error
}

// TaskSubmitter запускает фоновые задачи. Реализуется taskmanager.TaskManager.
type TaskSubmitter interface {
	SubmitTask(ctx context.Context, key, kind string, fn taskmanager.TaskFunc, opts ...taskmanager.SubmitOption) error
}

var _ Runner = (*pipeline.Orchestrator)(nil)
var _ TaskSubmitter = (*taskmanager.TaskManager)(nil)

// Config - ограничения на входные данные.
type Config struct {
	MaxCharacters   int
	MaxPromptLength int
}

// CreateStoryInput - запрос на создание истории.
type CreateStoryInput struct {
	UserID                string
	Drawing               *pipeline.Upload
	Voice                 *pipeline.Upload
	TextPrompt            string
	StoryType             string
	CharacterNames        []string
	CharacterDescriptions map[string]string
	Length                model.StoryLength
	Language              string
	WithIllustrations     bool
	VoiceSettings         provider.VoiceSettings
}

// ContinueStoryInput - запрос на продолжение истории.
type ContinueStoryInput struct {
	UserID                string
	Prompt                string
	NewCharacters         []string
	CharacterDescriptions map[string]string
	VoiceSettings         provider.VoiceSettings
}

// RunAccepted - ответ на запуск фонового прогона.
type RunAccepted struct {
	StoryID uuid.UUID         `json:"storyId"`
	Status  model.StoryStatus `json:"status"`
}

// StoryService принимает запросы, создает записи и запускает прогоны в фоне.
// Результат прогона клиент узнает через GetStatus и GetStory.
type StoryService struct {
	repo     repository.StoryRepository
	locker   lock.Locker
	tasks    TaskSubmitter
	runner   Runner
	catalog  *model.StoryTypeCatalog
	notifier messaging.Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewStoryService создает сервис историй.
func NewStoryService(
	repo repository.StoryRepository,
	locker lock.Locker,
	tasks TaskSubmitter,
	runner Runner,
	catalog *model.StoryTypeCatalog,
	notifier messaging.Notifier,
	cfg Config,
	logger *zap.Logger,
) *StoryService {
	if notifier == nil {
		notifier = messaging.NopNotifier{}
	}
	return &StoryService{
		repo:     repo,
		locker:   locker,
		tasks:    tasks,
		runner:   runner,
		catalog:  catalog,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("StoryService"),
		now:      time.Now,
	}
}

// CreateStory создает черновик и запускает генерацию. Ответ возвращается сразу,
// не дожидаясь ни одного шага пайплайна.
func (s *StoryService) CreateStory(ctx context.Context, in CreateStoryInput) (*RunAccepted, error) {
	storyType, err := s.validateCreate(&in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &model.StoryRecord{
		ID:             uuid.New(),
		UserID:         in.UserID,
		Status:         model.StatusDraft,
		CharacterNames: in.CharacterNames,
		UserInput: model.UserInput{
			HasDrawing:            in.Drawing != nil,
			HasVoice:              in.Voice != nil,
			HasText:               in.TextPrompt != "",
			Prompt:                in.TextPrompt,
			StoryType:             storyType.Key,
			Length:                in.Length,
			Language:              in.Language,
			WithIllustrations:     in.WithIllustrations,
			CharacterDescriptions: in.CharacterDescriptions,
		},
		Media:     model.Media{IllustrationURLs: []string{}},
		Metadata:  model.Metadata{WordLimit: in.Length.WordLimit()},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	s.notify(ctx, rec.ID, rec.UserID, model.StatusDraft, "")

	log := s.logger.With(zap.String("story_id", rec.ID.String()), zap.String("user_id", in.UserID))
	log.Info("Story draft created",
		zap.String("story_type", storyType.Key),
		zap.String("length", string(in.Length)),
		zap.Bool("has_drawing", in.Drawing != nil),
		zap.Bool("has_voice", in.Voice != nil),
	)

	rc := &pipeline.RunContext{
		StoryID:               rec.ID,
		UserID:                rec.UserID,
		StoryType:             storyType,
		Drawing:               in.Drawing,
		Voice:                 in.Voice,
		TextPrompt:            in.TextPrompt,
		CharacterNames:        in.CharacterNames,
		CharacterDescriptions: in.CharacterDescriptions,
		Length:                in.Length,
		Language:              in.Language,
		WithIllustrations:     in.WithIllustrations,
		VoiceSettings:         in.VoiceSettings,
	}
	if err := s.submit(ctx, rec.ID, TaskKindGeneration, func(ctx context.Context) error {
		return s.runner.RunGeneration(ctx, rc)
	}); err != nil {
		s.markFailed(ctx, rec.ID, rec.UserID, err)
		return nil, err
	}

	return &RunAccepted{StoryID: rec.ID, Status: model.StatusGenerating}, nil
}

// GetStatus возвращает статус и статическую оценку прогресса.
func (s *StoryService) GetStatus(ctx context.Context, id uuid.UUID, userID string) (*model.StatusView, error) {
	rec, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	view := model.NewStatusView(rec)
	return &view, nil
}

// GetStory возвращает запись истории целиком.
func (s *StoryService) GetStory(ctx context.Context, id uuid.UUID, userID string) (*model.StoryRecord, error) {
	return s.getOwned(ctx, id, userID)
}

// ContinueStory запускает продолжение готовой истории.
func (s *StoryService) ContinueStory(ctx context.Context, id uuid.UUID, in ContinueStoryInput) (*RunAccepted, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.NewCharacters = cleanNames(in.NewCharacters)
	if err := s.validatePrompt(in.Prompt); err != nil {
		return nil, err
	}
	if s.cfg.MaxCharacters > 0 && len(in.NewCharacters) > s.cfg.MaxCharacters {
		return nil, fmt.Errorf("%w: at most %d new characters allowed", model.ErrInvalidInput, s.cfg.MaxCharacters)
	}

	rec, err := s.getOwned(ctx, id, in.UserID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: story is %s, only completed stories can be continued", model.ErrInvalidStatus, rec.Status)
	}

	req := pipeline.ContinuationRequest{
		StoryID:               rec.ID,
		StoryType:             s.storyType(rec.UserInput.StoryType),
		Prompt:                in.Prompt,
		NewCharacters:         in.NewCharacters,
		CharacterDescriptions: in.CharacterDescriptions,
		VoiceSettings:         in.VoiceSettings,
	}
	if err := s.submit(ctx, rec.ID, TaskKindContinuation, func(ctx context.Context) error {
		return s.runner.RunContinuation(ctx, req)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Story continuation accepted", zap.String("story_id", rec.ID.String()), zap.Int("new_characters", len(in.NewCharacters)))
	return &RunAccepted{StoryID: rec.ID, Status: model.StatusGenerating}, nil
}

// RegenerateStory запускает генерацию заново для failed или completed истории.
// Это единственный путь, сбрасывающий текст. Анализ рисунка и расшифровка голоса
// берутся из прошлого прогона. Если анализа нет, исходный файл читается из хранилища,
// а без сохраненного файла регенерация отклоняется.
func (s *StoryService) RegenerateStory(ctx context.Context, id uuid.UUID, userID string) (*RunAccepted, error) {
	rec, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusFailed && rec.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: story is %s, only failed or completed stories can be regenerated", model.ErrInvalidStatus, rec.Status)
	}
	if rec.UserInput.HasDrawing && rec.Metadata.ImageAnalysis == "" && rec.Media.DrawingURL == nil {
		return nil, fmt.Errorf("%w: the drawing was not saved, create a new story instead", model.ErrInvalidInput)
	}
	if rec.UserInput.HasVoice && rec.Metadata.Transcription == "" && rec.Media.VoiceInputURL == nil {
		return nil, fmt.Errorf("%w: the voice recording was not saved, create a new story instead", model.ErrInvalidInput)
	}

	release, err := s.locker.Acquire(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	media := model.Media{
		DrawingURL:       rec.Media.DrawingURL,
		VoiceInputURL:    rec.Media.VoiceInputURL,
		IllustrationURLs: []string{},
	}
	meta := model.Metadata{
		WordLimit:     rec.UserInput.Length.WordLimit(),
		ImageAnalysis: rec.Metadata.ImageAnalysis,
		Transcription: rec.Metadata.Transcription,
	}
	err = s.repo.Update(ctx, rec.ID, model.StoryPatch{
		Status:     model.StatusPtr(model.StatusDraft),
		Title:      model.StringPtr(""),
		Content:    model.StringPtr(""),
		Media:      &media,
		Metadata:   &meta,
		ClearError: true,
	})
	release()
	if err != nil {
		return nil, fmt.Errorf("failed to reset story: %w", err)
	}
	s.notify(ctx, rec.ID, rec.UserID, model.StatusDraft, "")

	rc := &pipeline.RunContext{
		StoryID:               rec.ID,
		UserID:                rec.UserID,
		StoryType:             s.storyType(rec.UserInput.StoryType),
		TextPrompt:            rec.UserInput.Prompt,
		CharacterNames:        rec.CharacterNames,
		CharacterDescriptions: rec.UserInput.CharacterDescriptions,
		Length:                rec.UserInput.Length,
		Language:              rec.UserInput.Language,
		WithIllustrations:     rec.UserInput.WithIllustrations,
		ImageAnalysis:         rec.Metadata.ImageAnalysis,
		Transcription:         rec.Metadata.Transcription,
		DrawingURL:            rec.Media.DrawingURL,
		VoiceInputURL:         rec.Media.VoiceInputURL,
	}
	if err := s.submit(ctx, rec.ID, TaskKindRegeneration, func(ctx context.Context) error {
		return s.runner.RunGeneration(ctx, rc)
	}); err != nil {
		s.markFailed(ctx, rec.ID, rec.UserID, err)
		return nil, err
	}

	s.logger.Info("Story regeneration accepted", zap.String("story_id", rec.ID.String()))
	return &RunAccepted{StoryID: rec.ID, Status: model.StatusGenerating}, nil
}

// ArchiveStory переводит готовую историю в archived.
func (s *StoryService) ArchiveStory(ctx context.Context, id uuid.UUID, userID string) (*model.StatusView, error) {
	rec, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.StatusArchived {
		view := model.NewStatusView(rec)
		return &view, nil
	}
	if rec.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: story is %s, only completed stories can be archived", model.ErrInvalidStatus, rec.Status)
	}

	release, err := s.locker.Acquire(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.repo.Update(ctx, rec.ID, model.StoryPatch{Status: model.StatusPtr(model.StatusArchived)}); err != nil {
		return nil, fmt.Errorf("failed to archive story: %w", err)
	}
	s.notify(ctx, rec.ID, rec.UserID, model.StatusArchived, "")

	rec.Status = model.StatusArchived
	view := model.NewStatusView(rec)
	return &view, nil
}

// StoryTypes возвращает справочник жанров.
func (s *StoryService) StoryTypes() []model.StoryType {
	return s.catalog.List()
}

// submit берет аренду истории и отдает прогон менеджеру задач.
// Аренда снимается по окончании прогона либо сразу, если задачу не приняли.
func (s *StoryService) submit(ctx context.Context, id uuid.UUID, kind string, run taskmanager.TaskFunc) error {
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		return err
	}

	// zerolog-логгер задачи берется из контекста запроса.
	taskLogger := log.With().Str("story_id", id.String()).Logger()
	ctx = taskLogger.WithContext(ctx)

	// Аренда снимается только после записи итогового статуса задачи,
	// иначе немедленный повторный запрос упрется в ErrTaskInProgress.
	err = s.tasks.SubmitTask(ctx, id.String(), kind, run, taskmanager.WithOnFinish(release))
	if err != nil {
		release()
		switch {
		case errors.Is(err, taskmanager.ErrTooManyTasks), errors.Is(err, taskmanager.ErrShuttingDown):
			return fmt.Errorf("%w: %v", model.ErrQueueFull, err)
		case errors.Is(err, taskmanager.ErrTaskInProgress):
			return fmt.Errorf("%w: %v", model.ErrStoryBusy, err)
		}
		return fmt.Errorf("failed to submit %s task: %w", kind, err)
	}
	return nil
}

func (s *StoryService) markFailed(ctx context.Context, id uuid.UUID, userID string, cause error) {
	msg := cause.Error()
	err := s.repo.Update(ctx, id, model.StoryPatch{Status: model.StatusPtr(model.StatusFailed), Error: &msg})
	if err != nil {
		s.logger.Error("Failed to mark story as failed", zap.String("story_id", id.String()), zap.Error(err))
		return
	}
	s.notify(ctx, id, userID, model.StatusFailed, msg)
}

func (s *StoryService) notify(ctx context.Context, id uuid.UUID, userID string, status model.StoryStatus, errMsg string) {
	event := messaging.NewStoryStatusEvent(id, userID, status, errMsg, s.now())
	if err := s.notifier.NotifyStatus(ctx, event); err != nil {
		s.logger.Warn("Failed to publish status event", zap.String("story_id", id.String()), zap.String("status", string(status)), zap.Error(err))
	}
}

// getOwned скрывает чужие истории за ErrNotFound. Пустой userID не проверяется.
func (s *StoryService) getOwned(ctx context.Context, id uuid.UUID, userID string) (*model.StoryRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && rec.UserID != "" && rec.UserID != userID {
		return nil, fmt.Errorf("story %s: %w", id, model.ErrNotFound)
	}
	return rec, nil
}

func (s *StoryService) storyType(key string) model.StoryType {
	if t, ok := s.catalog.Get(key); ok {
		return t
	}
	t, _ := s.catalog.Get(model.DefaultStoryType)
	return t
}
