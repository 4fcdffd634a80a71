package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storytime-server/internal/messaging"
	"storytime-server/internal/model"
	"storytime-server/internal/prompt"
	"storytime-server/internal/provider"
	"storytime-server/internal/repository"
	"storytime-server/internal/safety"
	"storytime-server/internal/storage"
	"storytime-server/internal/storytext"
	"storytime-server/pkg/retry"
)

const (
	titleMaxTokens   = 24
	titleTemperature = 0.5
	minStoryTokens   = 256
)

// Deps - внешние зависимости оркестратора.
type Deps struct {
	Repo      repository.StoryRepository
	Storage   storage.ObjectStorage
	Providers *provider.Set
	Safety    *safety.Validator
	Notifier  messaging.Notifier
	Retry     *retry.Executor
}

// Config - параметры прогонов.
type Config struct {
	RetryPolicy                retry.Policy
	Temperature                float32
	IllustrationCount          int
	PlaceholderIllustrationURL string
	MaxCharacters              int
	CostRates                  storytext.CostRates
}

// Orchestrator ведет историю по состояниям draft -> generating -> processing -> completed|failed
// и продлевает готовые истории.
type Orchestrator struct {
	repo      repository.StoryRepository
	storage   storage.ObjectStorage
	providers *provider.Set
	safety    *safety.Validator
	notifier  messaging.Notifier
	retry     *retry.Executor
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator создает оркестратор. Если классификатор ошибок в политике не задан,
// используется model.IsRetryable.
func NewOrchestrator(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.RetryPolicy.Retryable == nil {
		cfg.RetryPolicy.Retryable = model.IsRetryable
	}
	if cfg.CostRates == (storytext.CostRates{}) {
		cfg.CostRates = storytext.DefaultCostRates
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = messaging.NopNotifier{}
	}
	validator := deps.Safety
	if validator == nil {
		validator = safety.NewValidator()
	}
	executor := deps.Retry
	if executor == nil {
		executor = retry.NewExecutor(logger, nil)
	}
	return &Orchestrator{
		repo:      deps.Repo,
		storage:   deps.Storage,
		providers: deps.Providers,
		safety:    validator,
		notifier:  notifier,
		retry:     executor,
		cfg:       cfg,
		logger:    logger.Named("Orchestrator"),
		now:       time.Now,
	}
}

// RunGeneration выполняет полный прогон генерации для истории в статусе draft.
// Любая ошибка после старта переводит историю в failed. Возвращаемая ошибка
// нужна только для логов фоновой задачи.
func (o *Orchestrator) RunGeneration(ctx context.Context, rc *RunContext) (err error) {
	log := o.logger.With(zap.String("story_id", rc.StoryID.String()), zap.String("run", "generation"))
	started := o.now()

	rec, err := o.repo.GetByID(ctx, rc.StoryID)
	if err != nil {
		err = &StepError{Step: StepStart, Err: err}
		// Нечитаемая, но существующая история не должна остаться в draft.
		if !errors.Is(err, model.ErrNotFound) {
			o.failGeneration(ctx, rc, err, log)
			runsTotal.WithLabelValues("generation", "failed").Inc()
		}
		return err
	}
	if rec.Status != model.StatusDraft {
		return &StepError{Step: StepStart, Err: fmt.Errorf("%w: expected %s, got %s", model.ErrInvalidStatus, model.StatusDraft, rec.Status)}
	}
	if rc.UserID == "" {
		rc.UserID = rec.UserID
	}

	defer func() {
		if r := recover(); r != nil {
			err = &StepError{Step: "panic", Err: fmt.Errorf("generation panicked: %v", r)}
			o.failGeneration(ctx, rc, err, log)
			runsTotal.WithLabelValues("generation", "failed").Inc()
		}
	}()

	log.Info("Story generation started",
		zap.Bool("has_drawing", rc.Drawing != nil || rc.ImageAnalysis != ""),
		zap.Bool("has_voice", rc.Voice != nil || rc.Transcription != ""),
		zap.Bool("with_illustrations", rc.WithIllustrations),
	)

	if err = o.generate(ctx, rc, log); err != nil {
		o.failGeneration(ctx, rc, err, log)
		runsTotal.WithLabelValues("generation", "failed").Inc()
		return err
	}

	runsTotal.WithLabelValues("generation", "completed").Inc()
	log.Info("Story generation completed",
		zap.Duration("elapsed", o.now().Sub(started)),
		zap.Int("words", storytext.CountWords(rc.Content)),
		zap.Strings("degraded_assets", rc.DegradedAssets),
	)
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, rc *RunContext, log *zap.Logger) error {
	if err := o.step(StepStart, func() error {
		return o.transition(ctx, rc.StoryID, rc.UserID, model.StatusGenerating, model.StoryPatch{ClearError: true})
	}); err != nil {
		return err
	}

	if rc.ImageAnalysis == "" && (rc.Drawing != nil || rc.DrawingURL != nil) {
		if err := o.step(StepVision, func() error { return o.analyzeDrawing(ctx, rc) }); err != nil {
			return err
		}
	}

	if rc.Transcription == "" && (rc.Voice != nil || rc.VoiceInputURL != nil) {
		if err := o.step(StepTranscription, func() error { return o.transcribeVoice(ctx, rc) }); err != nil {
			return err
		}
	}

	if err := o.step(StepProcessing, func() error {
		return o.transition(ctx, rc.StoryID, rc.UserID, model.StatusProcessing, model.StoryPatch{})
	}); err != nil {
		return err
	}

	storyPrompt := prompt.BuildStory(prompt.StoryInput{
		StoryType:             rc.StoryType,
		ImageAnalysis:         rc.ImageAnalysis,
		Transcription:         rc.Transcription,
		CharacterNames:        rc.CharacterNames,
		CharacterDescriptions: rc.CharacterDescriptions,
		UserRequest:           rc.TextPrompt,
		WordLimit:             rc.wordLimit(),
		Language:              rc.Language,
	})

	var raw string
	if err := o.step(StepText, func() error {
		var err error
		raw, err = o.generateText(ctx, rc, "story_text", prompt.StorySystemPrompt, storyPrompt)
		return err
	}); err != nil {
		return err
	}

	if err := o.step(StepSafety, func() error { return o.checkSafety(rc, raw, log) }); err != nil {
		return err
	}

	rc.Content = storytext.EnforceWordLimit(strings.TrimSpace(raw), rc.wordLimit())

	if err := o.step(StepTitle, func() error {
		var err error
		rc.Title, err = o.generateTitle(ctx, rc, log)
		return err
	}); err != nil && !errors.Is(err, model.ErrDegradableAsset) {
		return err
	}

	if err := o.step(StepNarration, func() error {
		url, seconds, err := o.narrate(ctx, rc, rc.Content)
		if err != nil {
			return err
		}
		rc.NarrationURL = url
		rc.NarrationSeconds = seconds
		return nil
	}); err != nil {
		return err
	}

	if rc.WithIllustrations && o.cfg.IllustrationCount > 0 {
		if err := o.step(StepIllustrations, func() error { return o.illustrate(ctx, rc, log) }); err != nil {
			return err
		}
	}

	return o.step(StepComplete, func() error { return o.complete(ctx, rc) })
}

// step замеряет длительность шага и помечает ошибку его именем.
func (o *Orchestrator) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	stepDuration.WithLabelValues(name, stepOutcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return &StepError{Step: name, Err: err}
	}
	return nil
}

// stepOutcome - метка исхода шага: ok, degraded (заменен запасным вариантом) или error.
func stepOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrDegradableAsset):
		return "degraded"
	}
	return "error"
}

// analyzeDrawing сначала сохраняет рисунок, потом отдает его vision-модели:
// после сбоя анализа регенерация возьмет рисунок из хранилища.
func (o *Orchestrator) analyzeDrawing(ctx context.Context, rc *RunContext) error {
	drawing, err := o.ensureStored(ctx, rc, storage.CategoryDrawing, rc.Drawing, &rc.DrawingURL)
	if err != nil {
		return err
	}
	rc.Drawing = drawing

	analysis, err := retry.Execute(ctx, o.retry, "vision", o.cfg.RetryPolicy, func(ctx context.Context) (string, error) {
		return o.providers.Vision.Describe(ctx, drawing.Data, drawing.ContentType)
	})
	if err != nil {
		return err
	}
	rc.ImageAnalysis = strings.TrimSpace(analysis)
	rc.visionCalls++
	return o.persistArtifacts(ctx, rc)
}

func (o *Orchestrator) transcribeVoice(ctx context.Context, rc *RunContext) error {
	voice, err := o.ensureStored(ctx, rc, storage.CategoryVoiceInput, rc.Voice, &rc.VoiceInputURL)
	if err != nil {
		return err
	}
	rc.Voice = voice

	text, err := retry.Execute(ctx, o.retry, "transcription", o.cfg.RetryPolicy, func(ctx context.Context) (string, error) {
		return o.providers.Transcriber.Transcribe(ctx, voice.Data, voice.ContentType, rc.Language)
	})
	if err != nil {
		return err
	}
	rc.Transcription = strings.TrimSpace(text)
	rc.transcribedSeconds += storytext.EstimateNarrationSeconds(rc.Transcription)
	return o.persistArtifacts(ctx, rc)
}

// ensureStored гарантирует, что у входного файла есть и байты, и ссылка в хранилище.
// Новый файл сохраняется и сразу записывается в историю. Если есть только ссылка,
// файл читается из хранилища.
func (o *Orchestrator) ensureStored(ctx context.Context, rc *RunContext, category storage.Category, up *Upload, url **string) (*Upload, error) {
	if *url == nil {
		if up == nil {
			return nil, fmt.Errorf("%w: no %s to process", model.ErrInvalidInput, category)
		}
		stored, err := o.put(ctx, rc, category, up.Data, up.ContentType)
		if err != nil {
			return nil, err
		}
		*url = &stored
		return up, o.persistArtifacts(ctx, rc)
	}
	if up != nil {
		return up, nil
	}

	policy := o.cfg.RetryPolicy
	retryable := policy.Retryable
	policy.Retryable = func(err error) bool {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return false
		}
		return retryable == nil || retryable(err)
	}
	obj, err := retry.Execute(ctx, o.retry, "load_"+string(category), policy, func(ctx context.Context) (storage.Object, error) {
		return o.storage.Get(ctx, **url)
	})
	if err != nil {
		return nil, model.PersistenceError("load "+string(category), err)
	}
	return &Upload{Data: obj.Data, ContentType: obj.ContentType}, nil
}

// persistArtifacts записывает промежуточные результаты: ссылки на входы и тексты анализа.
func (o *Orchestrator) persistArtifacts(ctx context.Context, rc *RunContext) error {
	media := rc.Media(false)
	meta := o.buildMetadata(rc, false, nil)
	return o.repo.Update(ctx, rc.StoryID, model.StoryPatch{Media: &media, Metadata: &meta})
}

func (o *Orchestrator) generateText(ctx context.Context, rc *RunContext, label, systemPrompt, userPrompt string) (string, error) {
	rc.promptWords += storytext.CountWords(systemPrompt) + storytext.CountWords(userPrompt)
	completion, err := retry.Execute(ctx, o.retry, label, o.cfg.RetryPolicy, func(ctx context.Context) (provider.Completion, error) {
		c, err := o.providers.Text.Complete(ctx, systemPrompt, userPrompt, maxStoryTokens(rc.wordLimit()), o.cfg.Temperature)
		if err != nil {
			return c, err
		}
		if strings.TrimSpace(c.Text) == "" {
			return c, fmt.Errorf("empty %s response: %w", label, model.ErrTransientProvider)
		}
		return c, nil
	})
	if err != nil {
		return "", err
	}
	rc.addUsage(completion.Usage)
	return completion.Text, nil
}

// maxStoryTokens оставляет запас над лимитом слов, обрезку делает EnforceWordLimit.
func maxStoryTokens(wordLimit int) int {
	tokens := wordLimit * 2
	if tokens < minStoryTokens {
		return minStoryTokens
	}
	return tokens
}

func (o *Orchestrator) checkSafety(rc *RunContext, text string, log *zap.Logger) error {
	result := o.safety.Check(text)
	rc.Safety = &result
	if result.IsSafe {
		return nil
	}
	safetyViolationsTotal.WithLabelValues(string(result.Severity)).Inc()
	log.Warn("Generated text rejected by safety gate",
		zap.String("severity", string(result.Severity)),
		zap.Strings("flagged_terms", result.FlaggedTerms),
	)
	return &model.SafetyViolationError{Result: result}
}

// generateTitle никогда не оставляет историю без заголовка: при ошибке возвращается
// шаблонный заголовок вместе с AssetError.
func (o *Orchestrator) generateTitle(ctx context.Context, rc *RunContext, log *zap.Logger) (string, error) {
	title, err := retry.Execute(ctx, o.retry, "title", o.cfg.RetryPolicy, func(ctx context.Context) (string, error) {
		c, err := o.providers.Text.Complete(ctx, prompt.TitleSystemPrompt, prompt.BuildTitle(rc.Content, rc.Language), titleMaxTokens, titleTemperature)
		if err != nil {
			return "", err
		}
		rc.addUsage(c.Usage)
		t := storytext.CleanTitle(c.Text)
		if t == "" {
			return "", fmt.Errorf("empty title response: %w", model.ErrTransientProvider)
		}
		return t, nil
	})
	if err == nil {
		return title, nil
	}

	assetErr := &model.AssetError{Asset: "title", Err: err}
	rc.degrade("title")
	degradedAssetsTotal.WithLabelValues("title").Inc()
	fallback := storytext.FallbackTitle(rc.CharacterNames, rc.StoryType.Name)
	log.Warn("Title generation failed, using fallback title", zap.Error(assetErr), zap.String("title", fallback))
	return fallback, assetErr
}

func (o *Orchestrator) narrate(ctx context.Context, rc *RunContext, text string) (string, float64, error) {
	voice := rc.VoiceSettings
	if voice.Language == "" {
		voice.Language = rc.Language
	}
	audio, err := retry.Execute(ctx, o.retry, "narration", o.cfg.RetryPolicy, func(ctx context.Context) (provider.Audio, error) {
		a, err := o.providers.Speech.Synthesize(ctx, text, voice)
		if err != nil {
			return a, err
		}
		if len(a.Data) == 0 {
			return a, fmt.Errorf("empty narration audio: %w", model.ErrTransientProvider)
		}
		return a, nil
	})
	if err != nil {
		return "", 0, err
	}

	url, err := o.put(ctx, rc, storage.CategoryNarration, audio.Data, audio.ContentType)
	if err != nil {
		return "", 0, err
	}
	seconds := audio.DurationSeconds
	if seconds <= 0 {
		seconds = storytext.EstimateNarrationSeconds(text)
	}
	return url, seconds, nil
}

// illustrate рисует по одной картинке на сцену. Сбой сцены заменяется заглушкой.
func (o *Orchestrator) illustrate(ctx context.Context, rc *RunContext, log *zap.Logger) error {
	scenes := storytext.ExtractScenes(rc.Content, o.cfg.IllustrationCount)
	urls := make([]string, 0, len(scenes))
	for i, scene := range scenes {
		url, err := o.illustrateScene(ctx, rc, scene)
		if err != nil {
			asset := fmt.Sprintf("illustration_%d", i+1)
			assetErr := &model.AssetError{Asset: asset, Err: err}
			rc.degrade(asset)
			degradedAssetsTotal.WithLabelValues("illustration").Inc()
			log.Warn("Illustration failed, using placeholder", zap.Int("scene", i+1), zap.Error(assetErr))
			url = o.cfg.PlaceholderIllustrationURL
		}
		urls = append(urls, url)
	}
	rc.IllustrationURLs = urls
	return o.persistArtifacts(ctx, rc)
}

func (o *Orchestrator) illustrateScene(ctx context.Context, rc *RunContext, scene string) (string, error) {
	imagePrompt := prompt.BuildIllustration(scene, rc.StoryType, rc.CharacterNames)
	img, err := retry.Execute(ctx, o.retry, "illustration", o.cfg.RetryPolicy, func(ctx context.Context) (provider.Image, error) {
		return o.providers.Images.Generate(ctx, imagePrompt)
	})
	if err != nil {
		return "", err
	}
	rc.generatedImages++
	return o.put(ctx, rc, storage.CategoryIllustration, img.Data, img.ContentType)
}

// put сохраняет объект с повторами. Окончательный сбой считается ошибкой хранения.
func (o *Orchestrator) put(ctx context.Context, rc *RunContext, category storage.Category, data []byte, contentType string) (string, error) {
	url, err := retry.Execute(ctx, o.retry, "store_"+string(category), o.cfg.RetryPolicy, func(ctx context.Context) (string, error) {
		return o.storage.Put(ctx, data, contentType, storage.Metadata{Category: category, StoryID: rc.StoryID})
	})
	if err != nil {
		return "", model.PersistenceError("store "+string(category), err)
	}
	return url, nil
}

func (o *Orchestrator) complete(ctx context.Context, rc *RunContext) error {
	now := o.now().UTC()
	media := rc.Media(true)
	meta := o.buildMetadata(rc, true, &now)
	estimatedCost.Observe(meta.EstimatedCostUSD)

	return o.transition(ctx, rc.StoryID, rc.UserID, model.StatusCompleted, model.StoryPatch{
		Title:          model.StringPtr(rc.Title),
		Content:        model.StringPtr(rc.Content),
		CharacterNames: nonNil(rc.CharacterNames),
		Media:          &media,
		Metadata:       &meta,
		ClearError:     true,
		CompletedAt:    &now,
	})
}

// failGeneration переводит историю в failed. Ссылка на озвучку не сохраняется.
func (o *Orchestrator) failGeneration(ctx context.Context, rc *RunContext, runErr error, log *zap.Logger) {
	log.Error("Story generation failed", zap.Error(runErr))

	msg := runErr.Error()
	media := rc.Media(false)
	meta := o.buildMetadata(rc, false, nil)
	err := o.transition(ctx, rc.StoryID, rc.UserID, model.StatusFailed, model.StoryPatch{
		Error:    &msg,
		Media:    &media,
		Metadata: &meta,
	})
	if err != nil {
		log.Error("Failed to persist failed status", zap.Error(err))
	}
}

// buildMetadata собирает metadata из состояния прогона. Метрики текста
// считаются только для финальной записи.
func (o *Orchestrator) buildMetadata(rc *RunContext, final bool, generatedAt *time.Time) model.Metadata {
	info := o.providers.Info
	meta := model.Metadata{
		WordLimit:        rc.wordLimit(),
		Safety:           rc.Safety,
		TextProvider:     info.TextProvider,
		TextModel:        info.TextModel,
		SpeechProvider:   info.SpeechProvider,
		ImageAnalysis:    rc.ImageAnalysis,
		Transcription:    rc.Transcription,
		PromptTokens:     rc.Usage.PromptTokens,
		CompletionTokens: rc.Usage.CompletionTokens,
		DegradedAssets:   append([]string(nil), rc.DegradedAssets...),
	}
	if rc.WithIllustrations {
		meta.ImageProvider = info.ImageProvider
	}
	if !final {
		return meta
	}

	metrics := storytext.ComputeMetadata(rc.Content, rc.Language)
	meta.WordCount = metrics.WordCount
	meta.SentenceCount = metrics.SentenceCount
	meta.ReadingLevel = metrics.ReadingLevel
	meta.EstimatedReadingSeconds = metrics.EstimatedReadingSeconds
	meta.GeneratedAt = generatedAt
	meta.EstimatedCostUSD = o.estimateCost(rc, rc.Content)
	return meta
}

func (o *Orchestrator) estimateCost(rc *RunContext, generated string) float64 {
	return storytext.EstimateCost(storytext.CostInput{
		PromptWords:        rc.promptWords,
		CompletionWords:    storytext.CountWords(generated),
		PromptTokens:       rc.Usage.PromptTokens,
		CompletionTokens:   rc.Usage.CompletionTokens,
		NarratedChars:      len([]rune(generated)),
		Images:             rc.generatedImages,
		VisionCalls:        rc.visionCalls,
		TranscribedSeconds: rc.transcribedSeconds,
	}, o.cfg.CostRates)
}

// transition записывает новый статус вместе с патчем и публикует событие.
func (o *Orchestrator) transition(ctx context.Context, storyID uuid.UUID, userID string, status model.StoryStatus, patch model.StoryPatch) error {
	patch.Status = model.StatusPtr(status)
	if err := o.repo.Update(ctx, storyID, patch); err != nil {
		return err
	}

	errMsg := ""
	if patch.Error != nil {
		errMsg = *patch.Error
	}
	event := messaging.NewStoryStatusEvent(storyID, userID, status, errMsg, o.now())
	if err := o.notifier.NotifyStatus(ctx, event); err != nil {
		o.logger.Warn("Failed to publish status event",
			zap.String("story_id", event.StoryID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
