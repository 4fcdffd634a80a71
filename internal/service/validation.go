package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"storytime-server/internal/model"
)

// validateCreate нормализует запрос и проверяет ограничения. Возвращает жанр из справочника.
func (s *StoryService) validateCreate(in *CreateStoryInput) (model.StoryType, error) {
	in.TextPrompt = strings.TrimSpace(in.TextPrompt)
	in.CharacterNames = cleanNames(in.CharacterNames)
	in.Language = strings.ToLower(strings.TrimSpace(in.Language))
	if in.Language == "" {
		in.Language = defaultLanguage
	}
	if in.Length == "" {
		in.Length = model.LengthMedium
	}
	if in.Drawing != nil && len(in.Drawing.Data) == 0 {
		in.Drawing = nil
	}
	if in.Voice != nil && len(in.Voice.Data) == 0 {
		in.Voice = nil
	}

	if in.Drawing == nil && in.Voice == nil && in.TextPrompt == "" {
		return model.StoryType{}, fmt.Errorf("%w: provide a drawing, a voice recording or a text prompt", model.ErrInvalidInput)
	}
	if err := s.validatePrompt(in.TextPrompt); err != nil {
		return model.StoryType{}, err
	}
	if s.cfg.MaxCharacters > 0 && len(in.CharacterNames) > s.cfg.MaxCharacters {
		return model.StoryType{}, fmt.Errorf("%w: at most %d characters allowed", model.ErrInvalidInput, s.cfg.MaxCharacters)
	}
	if !in.Length.Valid() {
		return model.StoryType{}, fmt.Errorf("%w: unknown length %q", model.ErrInvalidInput, in.Length)
	}
	if in.Drawing != nil && !strings.HasPrefix(in.Drawing.ContentType, "image/") {
		return model.StoryType{}, fmt.Errorf("%w: drawing must be an image, got %q", model.ErrInvalidInput, in.Drawing.ContentType)
	}
	if in.Voice != nil && !strings.HasPrefix(in.Voice.ContentType, "audio/") {
		return model.StoryType{}, fmt.Errorf("%w: voice must be audio, got %q", model.ErrInvalidInput, in.Voice.ContentType)
	}

	key := strings.TrimSpace(in.StoryType)
	if key == "" {
		key = model.DefaultStoryType
	}
	storyType, ok := s.catalog.Get(key)
	if !ok {
		return model.StoryType{}, fmt.Errorf("%w: unknown story type %q", model.ErrInvalidInput, key)
	}
	return storyType, nil
}

func (s *StoryService) validatePrompt(prompt string) error {
	if s.cfg.MaxPromptLength > 0 && utf8.RuneCountInString(prompt) > s.cfg.MaxPromptLength {
		return fmt.Errorf("%w: prompt is longer than %d characters", model.ErrInvalidInput, s.cfg.MaxPromptLength)
	}
	return nil
}

// cleanNames убирает пустые имена и пробелы по краям.
func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
