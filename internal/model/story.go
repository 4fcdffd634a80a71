package model

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus определяет жизненный цикл истории.
type StoryStatus string

const (
	StatusDraft      StoryStatus = "draft"
	StatusGenerating StoryStatus = "generating"
	StatusProcessing StoryStatus = "processing"
	StatusCompleted  StoryStatus = "completed"
	StatusFailed     StoryStatus = "failed"
	StatusArchived   StoryStatus = "archived"
)

// Valid проверяет, что статус входит в известный набор.
func (s StoryStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusGenerating, StatusProcessing, StatusCompleted, StatusFailed, StatusArchived:
		return true
	}
	return false
}

// StoryLength задает желаемую длину истории.
type StoryLength string

const (
	LengthShort  StoryLength = "short"
	LengthMedium StoryLength = "medium"
	LengthLong   StoryLength = "long"
)

var wordLimits = map[StoryLength]int{
	LengthShort:  150,
	LengthMedium: 300,
	LengthLong:   500,
}

// WordLimit возвращает потолок слов для длины. Неизвестная длина считается medium.
func (l StoryLength) WordLimit() int {
	if n, ok := wordLimits[l]; ok {
		return n
	}
	return wordLimits[LengthMedium]
}

// Valid сообщает, известна ли длина.
func (l StoryLength) Valid() bool {
	_, ok := wordLimits[l]
	return ok
}

// ReadingLevel - уровень сложности текста.
type ReadingLevel string

const (
	ReadingBeginner     ReadingLevel = "beginner"
	ReadingIntermediate ReadingLevel = "intermediate"
	ReadingAdvanced     ReadingLevel = "advanced"
)

// Severity - серьезность нарушения безопасности контента.
type Severity string

const (
	SeveritySafe   Severity = "safe"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SafetyResult - результат проверки текста на безопасность.
type SafetyResult struct {
	IsSafe       bool     `json:"isSafe"`
	FlaggedTerms []string `json:"flaggedTerms"`
	Severity     Severity `json:"severity"`
}

// UserInput - исходные пожелания пользователя. Записывается один раз при создании.
type UserInput struct {
	HasDrawing            bool              `json:"hasDrawing"`
	HasVoice              bool              `json:"hasVoice"`
	HasText               bool              `json:"hasText"`
	Prompt                string            `json:"prompt,omitempty"`
	StoryType             string            `json:"storyType"`
	Length                StoryLength       `json:"length"`
	Language              string            `json:"language"`
	WithIllustrations     bool              `json:"withIllustrations"`
	CharacterDescriptions map[string]string `json:"characterDescriptions,omitempty"`
}

// NarrationSegment - озвучка отдельного продолжения истории.
type NarrationSegment struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Media содержит ссылки на медиа-артефакты истории.
type Media struct {
	DrawingURL         *string            `json:"drawingUrl,omitempty"`
	VoiceInputURL      *string            `json:"voiceInputUrl,omitempty"`
	NarrationURL       *string            `json:"narrationUrl"`
	NarrationSegments  []NarrationSegment `json:"narrationSegments,omitempty"`
	IllustrationURLs   []string           `json:"illustrationUrls"`
	BackgroundMusicURL *string            `json:"backgroundMusicUrl,omitempty"`
	DurationSeconds    float64            `json:"durationSeconds"`
}

// Metadata - вычисленные характеристики текста и сведения о генерации.
type Metadata struct {
	WordCount               int           `json:"wordCount"`
	WordLimit               int           `json:"wordLimit"`
	SentenceCount           int           `json:"sentenceCount"`
	ReadingLevel            ReadingLevel  `json:"readingLevel,omitempty"`
	EstimatedReadingSeconds int           `json:"estimatedReadingSeconds"`
	Safety                  *SafetyResult `json:"safety,omitempty"`
	TextProvider            string        `json:"textProvider,omitempty"`
	TextModel               string        `json:"textModel,omitempty"`
	SpeechProvider          string        `json:"speechProvider,omitempty"`
	ImageProvider           string        `json:"imageProvider,omitempty"`
	GeneratedAt             *time.Time    `json:"generatedAt,omitempty"`
	ImageAnalysis           string        `json:"imageAnalysis,omitempty"`
	Transcription           string        `json:"transcription,omitempty"`
	EstimatedCostUSD        float64       `json:"estimatedCostUsd"`
	PromptTokens            int           `json:"promptTokens,omitempty"`
	CompletionTokens        int           `json:"completionTokens,omitempty"`
	DegradedAssets          []string      `json:"degradedAssets,omitempty"`
	ContinuationCount       int           `json:"continuationCount"`
	LastContinuationError   string        `json:"lastContinuationError,omitempty"`
}

// StoryRecord - персистентный документ истории.
type StoryRecord struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	UserID         string      `json:"userId,omitempty" db:"user_id"`
	Status         StoryStatus `json:"status" db:"status"`
	Title          string      `json:"title" db:"title"`
	Content        string      `json:"content" db:"content"`
	CharacterNames []string    `json:"characterNames" db:"character_names"`
	UserInput      UserInput   `json:"userInput" db:"user_input"`
	Media          Media       `json:"media" db:"media"`
	Metadata       Metadata    `json:"metadata" db:"metadata"`
	Error          *string     `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" db:"updated_at"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
}

// StoryPatch описывает частичное обновление истории. Nil-поля не меняются.
// CompletedAt применяется хранилищем только если оно еще не было установлено.
type StoryPatch struct {
	Status         *StoryStatus
	Title          *string
	Content        *string
	CharacterNames []string
	Media          *Media
	Metadata       *Metadata
	Error          *string
	ClearError     bool
	CompletedAt    *time.Time
}

// Apply применяет патч к записи в памяти. Используется in-memory хранилищем и тестами.
func (p StoryPatch) Apply(rec *StoryRecord, now time.Time) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Content != nil {
		rec.Content = *p.Content
	}
	if p.CharacterNames != nil {
		rec.CharacterNames = append([]string(nil), p.CharacterNames...)
	}
	if p.Media != nil {
		rec.Media = *p.Media
	}
	if p.Metadata != nil {
		rec.Metadata = *p.Metadata
	}
	if p.ClearError {
		rec.Error = nil
	}
	if p.Error != nil {
		msg := *p.Error
		rec.Error = &msg
	}
	if p.CompletedAt != nil && rec.CompletedAt == nil {
		t := *p.CompletedAt
		rec.CompletedAt = &t
	}
	rec.UpdatedAt = now
}

// StatusPtr - помощник для построения патчей.
func StatusPtr(s StoryStatus) *StoryStatus { return &s }

// StringPtr - помощник для построения патчей.
func StringPtr(s string) *string { return &s }
