package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storytime-server/internal/lock"
	"storytime-server/internal/messaging"
	"storytime-server/internal/mocks"
	"storytime-server/internal/model"
	"storytime-server/internal/pipeline"
	"storytime-server/internal/provider"
	"storytime-server/internal/repository"
	"storytime-server/internal/storage"
	"storytime-server/pkg/retry"
	"storytime-server/pkg/taskmanager"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunGeneration(ctx context.Context, rc *pipeline.RunContext) error {
	return m.Called(ctx, rc).Error(0)
}

func (m *mockRunner) RunContinuation(ctx context.Context, req pipeline.ContinuationRequest) error {
	return m.Called(ctx, req).Error(0)
}

// inlineTasks выполняет задачу синхронно, чтобы тесты не зависели от горутин.
type inlineTasks struct {
	err  error
	keys []string
}

func (t *inlineTasks) SubmitTask(ctx context.Context, key, kind string, fn taskmanager.TaskFunc, opts ...taskmanager.SubmitOption) error {
	if t.err != nil {
		return t.err
	}
	var options taskmanager.SubmitOptions
	for _, opt := range opts {
		opt(&options)
	}
	t.keys = append(t.keys, key+":"+kind)
	_ = fn(context.WithoutCancel(ctx))
	if options.OnFinish != nil {
		options.OnFinish()
	}
	return nil
}

type serviceFixture struct {
	repo   *repository.MemoryStoryRepository
	locker *lock.MemoryLocker
	tasks  *inlineTasks
	runner *mockRunner
	svc    *StoryService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:   repository.NewMemoryStoryRepository(),
		locker: lock.NewMemoryLocker(),
		tasks:  &inlineTasks{},
		runner: &mockRunner{},
	}
	f.runner.Test(t)
	f.svc = NewStoryService(f.repo, f.locker, f.tasks, f.runner,
		model.NewStoryTypeCatalog(map[string]string{"bedtime": "https://cdn.test/music/bedtime.mp3"}),
		nil, Config{MaxCharacters: 3, MaxPromptLength: 50}, zap.NewNop())
	return f
}

func (f *serviceFixture) seed(t *testing.T, status model.StoryStatus, userID string) *model.StoryRecord {
	t.Helper()
	drawing := "https://cdn.test/drawings/d.png"
	rec := &model.StoryRecord{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         status,
		Title:          "Old Title",
		Content:        "Old content.",
		CharacterNames: []string{"Pip"},
		UserInput: model.UserInput{
			HasDrawing: true,
			Prompt:     "a fox",
			StoryType:  "bedtime",
			Length:     model.LengthLong,
			Language:   "fr",
		},
		Media:     model.Media{DrawingURL: &drawing, NarrationURL: model.StringPtr("https://cdn.test/n.mp3")},
		Metadata:  model.Metadata{ImageAnalysis: "a fox in a hat", WordCount: 2},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.repo.Create(context.Background(), rec))
	return rec
}

func TestCreateStory_Validation(t *testing.T) {
	cases := []struct {
		name string
		in   CreateStoryInput
	}{
		{"no modality", CreateStoryInput{TextPrompt: "   "}},
		{"empty drawing counts as missing", CreateStoryInput{Drawing: &pipeline.Upload{ContentType: "image/png"}}},
		{"too many characters", CreateStoryInput{TextPrompt: "x", CharacterNames: []string{"a", "b", "c", "d"}}},
		{"prompt too long", CreateStoryInput{TextPrompt: strings.Repeat("й", 51)}},
		{"unknown length", CreateStoryInput{TextPrompt: "x", Length: "epic"}},
		{"unknown story type", CreateStoryInput{TextPrompt: "x", StoryType: "thriller"}},
		{"drawing is not an image", CreateStoryInput{Drawing: &pipeline.Upload{Data: []byte("x"), ContentType: "audio/mpeg"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t)
			_, err := f.svc.CreateStory(context.Background(), tc.in)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
			assert.Empty(t, f.tasks.keys)
		})
	}
}

func TestCreateStory_SubmitsGeneration(t *testing.T) {
	f := newServiceFixture(t)
	var captured *pipeline.RunContext
	f.runner.On("RunGeneration", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*pipeline.RunContext)
		rec, err := f.repo.GetByID(context.Background(), captured.StoryID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDraft, rec.Status)
		// аренда удерживается на время прогона
		_, err = f.locker.Acquire(context.Background(), captured.StoryID)
		assert.ErrorIs(t, err, model.ErrStoryBusy)
	}).Return(nil).Once()

	res, err := f.svc.CreateStory(context.Background(), CreateStoryInput{
		UserID:         "user-1",
		TextPrompt:     "  a dragon who bakes bread ",
		StoryType:      "bedtime",
		CharacterNames: []string{" Pip ", ""},
		Language:       "EN",
		Drawing:        &pipeline.Upload{Data: []byte("png"), ContentType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerating, res.Status)

	rec, err := f.repo.GetByID(context.Background(), res.StoryID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, []string{"Pip"}, rec.CharacterNames)
	assert.True(t, rec.UserInput.HasDrawing)
	assert.True(t, rec.UserInput.HasText)
	assert.False(t, rec.UserInput.HasVoice)
	assert.Equal(t, model.LengthMedium, rec.UserInput.Length)
	assert.Equal(t, "en", rec.UserInput.Language)
	assert.Equal(t, 300, rec.Metadata.WordLimit)

	require.NotNil(t, captured)
	assert.Equal(t, "a dragon who bakes bread", captured.TextPrompt)
	assert.Equal(t, "https://cdn.test/music/bedtime.mp3", captured.StoryType.BackgroundMusicURL)
	assert.Equal(t, []string{res.StoryID.String() + ":" + TaskKindGeneration}, f.tasks.keys)

	release, err := f.locker.Acquire(context.Background(), res.StoryID)
	require.NoError(t, err)
	release()
	f.runner.AssertExpectations(t)
}

func TestCreateStory_QueueFullMarksFailed(t *testing.T) {
	f := newServiceFixture(t)
	f.tasks.err = taskmanager.ErrTooManyTasks
	notifier := mocks.NewMockNotifier(t)
	notifier.On("NotifyStatus", mock.Anything, mock.Anything).Return(nil)
	f.svc.notifier = notifier

	_, err := f.svc.CreateStory(context.Background(), CreateStoryInput{TextPrompt: "a cat"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrQueueFull)

	require.Len(t, notifier.Calls, 2)
	draftEvent := notifier.Calls[0].Arguments.Get(1).(messaging.StoryStatusEvent)
	failedEvent := notifier.Calls[1].Arguments.Get(1).(messaging.StoryStatusEvent)
	assert.Equal(t, model.StatusDraft, draftEvent.Status)
	assert.Equal(t, model.StatusFailed, failedEvent.Status)
	assert.Contains(t, failedEvent.Error, "generation queue is full")

	rec, err := f.repo.GetByID(context.Background(), draftEvent.StoryID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)

	// аренда снята, историю можно перезапустить
	release, err := f.locker.Acquire(context.Background(), rec.ID)
	require.NoError(t, err)
	release()
	f.runner.AssertNotCalled(t, "RunGeneration", mock.Anything, mock.Anything)
}

func TestCreateStory_WithTaskManager(t *testing.T) {
	f := newServiceFixture(t)
	tm := taskmanager.New(taskmanager.Config{MaxTasks: 2})
	f.svc.tasks = tm

	done := make(chan struct{})
	f.runner.On("RunGeneration", mock.Anything, mock.Anything).Run(func(mock.Arguments) { close(done) }).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.svc.CreateStory(ctx, CreateStoryInput{TextPrompt: "a cat"})
	cancel()
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generation was not started")
	}
	require.NoError(t, tm.Shutdown(context.Background()))
	task, err := tm.GetTask(res.StoryID.String())
	require.NoError(t, err)
	assert.Equal(t, taskmanager.TaskStatusCompleted, task.Status)
}

func TestGetStatus(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.seed(t, model.StatusProcessing, "user-1")

	view, err := f.svc.GetStatus(context.Background(), rec.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, view.Status)
	assert.Equal(t, 75, view.ProgressPercent)
	assert.Equal(t, 20, view.EstimatedTimeRemaining)

	_, err = f.svc.GetStatus(context.Background(), rec.ID, "someone-else")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.GetStatus(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestContinueStory(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.seed(t, model.StatusCompleted, "")

	f.runner.On("RunContinuation", mock.Anything, mock.MatchedBy(func(req pipeline.ContinuationRequest) bool {
		return req.StoryID == rec.ID &&
			req.StoryType.Key == "bedtime" &&
			req.Prompt == "they find a map" &&
			assert.ObjectsAreEqual([]string{"Mole"}, req.NewCharacters)
	})).Return(nil).Once()

	res, err := f.svc.ContinueStory(context.Background(), rec.ID, ContinueStoryInput{Prompt: " they find a map ", NewCharacters: []string{"Mole", " "}})
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerating, res.Status)
	f.runner.AssertExpectations(t)
}

func TestContinueStory_Rejections(t *testing.T) {
	f := newServiceFixture(t)
	draft := f.seed(t, model.StatusFailed, "")
	_, err := f.svc.ContinueStory(context.Background(), draft.ID, ContinueStoryInput{Prompt: "more"})
	assert.ErrorIs(t, err, model.ErrInvalidStatus)

	done := f.seed(t, model.StatusCompleted, "")
	release, err := f.locker.Acquire(context.Background(), done.ID)
	require.NoError(t, err)
	_, err = f.svc.ContinueStory(context.Background(), done.ID, ContinueStoryInput{Prompt: "more"})
	assert.ErrorIs(t, err, model.ErrStoryBusy)
	release()

	_, err = f.svc.ContinueStory(context.Background(), done.ID, ContinueStoryInput{NewCharacters: []string{"a", "b", "c", "d"}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	f.runner.AssertNotCalled(t, "RunContinuation", mock.Anything, mock.Anything)
}

func TestRegenerateStory_ReusesAnalysis(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.seed(t, model.StatusFailed, "user-1")
	require.NoError(t, f.repo.Update(context.Background(), rec.ID, model.StoryPatch{Error: model.StringPtr("text_generation: boom")}))

	f.runner.On("RunGeneration", mock.Anything, mock.MatchedBy(func(rc *pipeline.RunContext) bool {
		return rc.ImageAnalysis == "a fox in a hat" &&
			rc.DrawingURL != nil && *rc.DrawingURL == "https://cdn.test/drawings/d.png" &&
			rc.Drawing == nil &&
			rc.Length == model.LengthLong &&
			rc.Language == "fr" &&
			rc.TextPrompt == "a fox"
	})).Return(nil).Once()

	res, err := f.svc.RegenerateStory(context.Background(), rec.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerating, res.Status)

	got, err := f.repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
	assert.Empty(t, got.Content)
	assert.Empty(t, got.Title)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.Media.NarrationURL)
	assert.Equal(t, "a fox in a hat", got.Metadata.ImageAnalysis)
	assert.Equal(t, 500, got.Metadata.WordLimit)
	f.runner.AssertExpectations(t)
}

func TestRegenerateStory_RejectsRunningStory(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.seed(t, model.StatusGenerating, "")
	_, err := f.svc.RegenerateStory(context.Background(), rec.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
}

func TestArchiveStory(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.seed(t, model.StatusCompleted, "")

	view, err := f.svc.ArchiveStory(context.Background(), rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, view.Status)
	assert.Equal(t, 100, view.ProgressPercent)

	got, err := f.repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, got.Status)
	assert.Equal(t, "Old content.", got.Content)

	// повторная архивация ничего не меняет
	_, err = f.svc.ArchiveStory(context.Background(), rec.ID, "")
	require.NoError(t, err)

	draft := f.seed(t, model.StatusDraft, "")
	_, err = f.svc.ArchiveStory(context.Background(), draft.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
}

func TestSubmit_ReleasesLeaseOnError(t *testing.T) {
	f := newServiceFixture(t)
	f.tasks.err = errors.New("boom")
	id := uuid.New()

	err := f.svc.submit(context.Background(), id, TaskKindGeneration, func(context.Context) error { return nil })
	require.Error(t, err)

	release, err := f.locker.Acquire(context.Background(), id)
	require.NoError(t, err)
	release()
}

// hookLocker вызывает beforeRelease перед снятием аренды и afterRelease после.
type hookLocker struct {
	lock.Locker
	beforeRelease func(id uuid.UUID)
	afterRelease  func()
}

func (l *hookLocker) Acquire(ctx context.Context, id uuid.UUID) (lock.ReleaseFunc, error) {
	release, err := l.Locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return func() {
		l.beforeRelease(id)
		release()
		l.afterRelease()
	}, nil
}

func TestSubmit_ReleasesLeaseAfterTaskFinished(t *testing.T) {
	f := newServiceFixture(t)
	tm := taskmanager.New(taskmanager.Config{MaxTasks: 2})
	f.svc.tasks = tm

	var status taskmanager.TaskStatus
	released := make(chan struct{}, 2)
	f.svc.locker = &hookLocker{
		Locker: f.locker,
		beforeRelease: func(id uuid.UUID) {
			if task, err := tm.GetTask(id.String()); err == nil {
				status = task.Status
			}
		},
		afterRelease: func() { released <- struct{}{} },
	}

	rec := f.seed(t, model.StatusCompleted, "")
	f.runner.On("RunContinuation", mock.Anything, mock.Anything).Return(nil).Twice()

	_, err := f.svc.ContinueStory(context.Background(), rec.ID, ContinueStoryInput{Prompt: "they find a map"})
	require.NoError(t, err)

	select {
	case <-released:
		assert.Equal(t, taskmanager.TaskStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("lease was not released")
	}

	// Аренда свободна, значит и задача уже не числится запущенной.
	_, err = f.svc.ContinueStory(context.Background(), rec.ID, ContinueStoryInput{Prompt: "they find a map"})
	require.NoError(t, err)
	<-released
	require.NoError(t, tm.Shutdown(context.Background()))
	f.runner.AssertExpectations(t)
}

const turtleStory = "Once upon a time, a little turtle named Tam lived next to a red house. " +
	"Every morning Tam watched the sun rise over the garden. One day a friendly bird came to visit. " +
	"Together they explored the whole garden and found a pond full of lilies. The end."

func TestRegenerateStory_AfterFailedDrawingAnalysis(t *testing.T) {
	f := newServiceFixture(t)
	text := mocks.NewMockTextGenerator(t)
	vision := mocks.NewMockVisionAnalyzer(t)
	tts := mocks.NewMockSpeechSynthesizer(t)
	store := mocks.NewMockObjectStorage(t)
	noSleep := func(context.Context, time.Duration) error { return nil }
	f.svc.runner = pipeline.NewOrchestrator(pipeline.Deps{
		Repo:    f.repo,
		Storage: store,
		Providers: &provider.Set{
			Text:   text,
			Vision: vision,
			Speech: tts,
			Info:   provider.Info{TextProvider: "openai", TextModel: "gpt-4o-mini", SpeechProvider: "openai"},
		},
		Retry: retry.NewExecutor(zap.NewNop(), noSleep),
	}, pipeline.Config{RetryPolicy: retry.Policy{MaxAttempts: 3}}, zap.NewNop())

	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(func(_ context.Context, _ []byte, _ string, meta storage.Metadata) string {
			return "https://cdn.test/" + string(meta.Category) + "/" + meta.StoryID.String()
		}, nil)
	vision.On("Describe", mock.Anything, []byte("png-bytes"), "image/png").
		Return("", &model.ProviderError{Provider: "openai", Op: "vision", StatusCode: 400, Retryable: false}).Once()

	res, err := f.svc.CreateStory(context.Background(), CreateStoryInput{
		UserID:  "user-1",
		Drawing: &pipeline.Upload{Data: []byte("png-bytes"), ContentType: "image/png"},
	})
	require.NoError(t, err)

	failed, err := f.repo.GetByID(context.Background(), res.StoryID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, failed.Status)
	require.NotNil(t, failed.Media.DrawingURL)
	drawingURL := *failed.Media.DrawingURL
	assert.Equal(t, "https://cdn.test/drawings/"+res.StoryID.String(), drawingURL)

	// Регенерация берет рисунок из хранилища и заново его анализирует.
	store.On("Get", mock.Anything, drawingURL).
		Return(storage.Object{Data: []byte("png-bytes"), ContentType: "image/png"}, nil).Once()
	vision.On("Describe", mock.Anything, []byte("png-bytes"), "image/png").
		Return("a green turtle next to a red house", nil).Once()
	text.On("Complete", mock.Anything, mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "a green turtle next to a red house")
	}), mock.Anything, mock.Anything).Return(provider.Completion{Text: turtleStory}, nil).Once()
	text.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(provider.Completion{Text: "Tam and the Lily Pond"}, nil).Once()
	tts.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).
		Return(provider.Audio{Data: []byte("ID3"), ContentType: "audio/mpeg", DurationSeconds: 12}, nil).Once()

	_, err = f.svc.RegenerateStory(context.Background(), res.StoryID, "user-1")
	require.NoError(t, err)

	got, err := f.repo.GetByID(context.Background(), res.StoryID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "a green turtle next to a red house", got.Metadata.ImageAnalysis)
	assert.Equal(t, drawingURL, *got.Media.DrawingURL)
	assert.Equal(t, turtleStory, got.Content)
	store.AssertNumberOfCalls(t, "Get", 1)
	vision.AssertExpectations(t)
	text.AssertExpectations(t)
}

func TestRegenerateStory_RejectsLostInputs(t *testing.T) {
	f := newServiceFixture(t)
	rec := f.seed(t, model.StatusFailed, "")
	require.NoError(t, f.repo.Update(context.Background(), rec.ID, model.StoryPatch{
		Media:    &model.Media{IllustrationURLs: []string{}},
		Metadata: &model.Metadata{},
	}))

	_, err := f.svc.RegenerateStory(context.Background(), rec.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	got, err := f.repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Empty(t, f.tasks.keys)
}
