package pipeline

import (
	"github.com/google/uuid"

	"storytime-server/internal/model"
	"storytime-server/internal/provider"
)

// Upload - бинарный вход пользователя (рисунок или голос).
type Upload struct {
	Data        []byte
	ContentType string
}

// RunContext - состояние одного прогона генерации. Живет только во время фоновой задачи,
// накопленные артефакты записываются в StoryRecord по ходу и в конце прогона.
type RunContext struct {
	StoryID uuid.UUID
	UserID  string

	StoryType             model.StoryType
	Drawing               *Upload
	Voice                 *Upload
	TextPrompt            string
	CharacterNames        []string
	CharacterDescriptions map[string]string
	Length                model.StoryLength
	Language              string
	WithIllustrations     bool
	VoiceSettings         provider.VoiceSettings

	// При повторной генерации сюда переносятся сохраненные результаты шагов 2-3,
	// и эти шаги пропускаются.
	ImageAnalysis string
	Transcription string
	DrawingURL    *string
	VoiceInputURL *string

	// Накопленные артефакты.
	Safety           *model.SafetyResult
	Content          string
	Title            string
	NarrationURL     string
	NarrationSeconds float64
	IllustrationURLs []string
	DegradedAssets   []string
	Usage            provider.Usage

	promptWords        int
	visionCalls        int
	generatedImages    int
	transcribedSeconds float64
}

// Media собирает media-поле записи из накопленного состояния.
// URL озвучки попадает в запись только вместе со статусом completed.
func (rc *RunContext) Media(withNarration bool) model.Media {
	m := model.Media{
		DrawingURL:       rc.DrawingURL,
		VoiceInputURL:    rc.VoiceInputURL,
		IllustrationURLs: append([]string(nil), rc.IllustrationURLs...),
	}
	if rc.StoryType.BackgroundMusicURL != "" {
		m.BackgroundMusicURL = model.StringPtr(rc.StoryType.BackgroundMusicURL)
	}
	if withNarration && rc.NarrationURL != "" {
		m.NarrationURL = model.StringPtr(rc.NarrationURL)
		m.DurationSeconds = rc.NarrationSeconds
	}
	return m
}

func (rc *RunContext) wordLimit() int {
	return rc.Length.WordLimit()
}

func (rc *RunContext) degrade(asset string) {
	rc.DegradedAssets = append(rc.DegradedAssets, asset)
}

func (rc *RunContext) addUsage(u provider.Usage) {
	rc.Usage.PromptTokens += u.PromptTokens
	rc.Usage.CompletionTokens += u.CompletionTokens
	rc.Usage.TotalTokens += u.TotalTokens
}

// ContinuationRequest - запрос на продолжение готовой истории.
type ContinuationRequest struct {
	StoryID               uuid.UUID
	StoryType             model.StoryType
	Prompt                string
	NewCharacters         []string
	CharacterDescriptions map[string]string
	VoiceSettings         provider.VoiceSettings
}
