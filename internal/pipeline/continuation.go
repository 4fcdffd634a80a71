package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storytime-server/internal/model"
	"storytime-server/internal/prompt"
	"storytime-server/internal/storytext"
)

const segmentSeparator = "\n\n"

// RunContinuation дописывает к готовой истории новый фрагмент. Существующий текст
// только дополняется. При сбое история возвращается в completed с прежним содержимым,
// а ошибка записывается в metadata.lastContinuationError.
func (o *Orchestrator) RunContinuation(ctx context.Context, req ContinuationRequest) (err error) {
	log := o.logger.With(zap.String("story_id", req.StoryID.String()), zap.String("run", "continuation"))

	rec, err := o.repo.GetByID(ctx, req.StoryID)
	if err != nil {
		return &StepError{Step: StepStart, Err: err}
	}
	if rec.Status != model.StatusCompleted {
		return &StepError{Step: StepStart, Err: fmt.Errorf("%w: expected %s, got %s", model.ErrInvalidStatus, model.StatusCompleted, rec.Status)}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &StepError{Step: "panic", Err: fmt.Errorf("continuation panicked: %v", r)}
			o.revertContinuation(ctx, rec, err, log)
			runsTotal.WithLabelValues("continuation", "failed").Inc()
		}
	}()

	log.Info("Story continuation started", zap.Int("new_characters", len(req.NewCharacters)))
	if err = o.continueStory(ctx, rec, req, log); err != nil {
		o.revertContinuation(ctx, rec, err, log)
		runsTotal.WithLabelValues("continuation", "failed").Inc()
		return err
	}

	runsTotal.WithLabelValues("continuation", "completed").Inc()
	log.Info("Story continuation completed", zap.Int("continuation", rec.Metadata.ContinuationCount+1))
	return nil
}

func (o *Orchestrator) continueStory(ctx context.Context, rec *model.StoryRecord, req ContinuationRequest, log *zap.Logger) error {
	rc := &RunContext{
		StoryID:       rec.ID,
		UserID:        rec.UserID,
		StoryType:     req.StoryType,
		Length:        rec.UserInput.Length,
		Language:      rec.UserInput.Language,
		VoiceSettings: req.VoiceSettings,
	}

	if err := o.step(StepStart, func() error {
		return o.transition(ctx, rec.ID, rec.UserID, model.StatusGenerating, model.StoryPatch{})
	}); err != nil {
		return err
	}

	names, added := MergeCharacters(rec.CharacterNames, req.NewCharacters, o.cfg.MaxCharacters)
	descriptions := make(map[string]string, len(rec.UserInput.CharacterDescriptions)+len(req.CharacterDescriptions))
	for k, v := range rec.UserInput.CharacterDescriptions {
		descriptions[k] = v
	}
	for k, v := range req.CharacterDescriptions {
		descriptions[k] = v
	}

	continuationPrompt := prompt.BuildContinuation(prompt.ContinuationInput{
		StoryType:             req.StoryType,
		Title:                 rec.Title,
		ExistingContent:       rec.Content,
		AdditionalRequest:     req.Prompt,
		CharacterNames:        rec.CharacterNames,
		NewCharacters:         added,
		CharacterDescriptions: descriptions,
		WordLimit:             rc.wordLimit(),
		Language:              rc.Language,
	})

	var raw string
	if err := o.step(StepText, func() error {
		var err error
		raw, err = o.generateText(ctx, rc, "continuation_text", prompt.StorySystemPrompt, continuationPrompt)
		return err
	}); err != nil {
		return err
	}

	// Проверка и лимит слов применяются только к новому фрагменту.
	if err := o.step(StepSafety, func() error { return o.checkSafety(rc, raw, log) }); err != nil {
		return err
	}
	segment := storytext.EnforceWordLimit(strings.TrimSpace(raw), rc.wordLimit())

	var narration model.NarrationSegment
	if err := o.step(StepNarration, func() error {
		url, seconds, err := o.narrate(ctx, rc, segment)
		if err != nil {
			return err
		}
		narration = model.NarrationSegment{URL: url, DurationSeconds: seconds}
		return nil
	}); err != nil {
		return err
	}

	content := strings.TrimRight(rec.Content, " \n") + segmentSeparator + segment

	media := rec.Media
	media.NarrationSegments = append(append([]model.NarrationSegment(nil), rec.Media.NarrationSegments...), narration)
	media.DurationSeconds += narration.DurationSeconds

	meta := rec.Metadata
	metrics := storytext.ComputeMetadata(content, rc.Language)
	meta.WordCount = metrics.WordCount
	meta.SentenceCount = metrics.SentenceCount
	meta.ReadingLevel = metrics.ReadingLevel
	meta.EstimatedReadingSeconds = metrics.EstimatedReadingSeconds
	meta.Safety = rc.Safety
	meta.PromptTokens += rc.Usage.PromptTokens
	meta.CompletionTokens += rc.Usage.CompletionTokens
	meta.EstimatedCostUSD += o.estimateCost(rc, segment)
	meta.ContinuationCount++
	meta.LastContinuationError = ""

	return o.step(StepComplete, func() error {
		return o.transition(ctx, rec.ID, rec.UserID, model.StatusCompleted, model.StoryPatch{
			Content:        model.StringPtr(content),
			CharacterNames: names,
			Media:          &media,
			Metadata:       &meta,
			ClearError:     true,
		})
	})
}

// revertContinuation возвращает историю в completed. Текст и медиа не меняются.
func (o *Orchestrator) revertContinuation(ctx context.Context, rec *model.StoryRecord, runErr error, log *zap.Logger) {
	log.Warn("Story continuation failed, keeping previous content", zap.Error(runErr))

	meta := rec.Metadata
	meta.LastContinuationError = runErr.Error()
	err := o.transition(ctx, rec.ID, rec.UserID, model.StatusCompleted, model.StoryPatch{Metadata: &meta})
	if err != nil {
		log.Error("Failed to revert story after continuation failure", zap.Error(err))
	}
}

// MergeCharacters добавляет новых персонажей без повторов (без учета регистра)
// и не больше max всего. Возвращает итоговый список и фактически добавленные имена.
func MergeCharacters(existing, incoming []string, max int) ([]string, []string) {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, name := range existing {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, strings.TrimSpace(name))
	}

	added := make([]string, 0, len(incoming))
	for _, name := range incoming {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if max > 0 && len(merged) >= max {
			break
		}
		seen[key] = struct{}{}
		merged = append(merged, name)
		added = append(added, name)
	}
	return merged, added
}
