package provider

import (
	"context"
)

// Usage - расход токенов одного вызова текстовой модели.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion - ответ текстовой модели.
type Completion struct {
	Text  string
	Usage Usage
}

// VoiceSettings - параметры озвучки.
type VoiceSettings struct {
	Voice    string
	Speed    float64
	Language string
}

// Audio - синтезированная речь.
type Audio struct {
	Data            []byte
	ContentType     string
	DurationSeconds float64
}

// Image - сгенерированное изображение.
type Image struct {
	Data        []byte
	ContentType string
}

// TextGenerator генерирует текст по промпту.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, prompt string, maxTokens int, temperature float32) (Completion, error)
}

// VisionAnalyzer описывает изображение словами.
type VisionAnalyzer interface {
	Describe(ctx context.Context, image []byte, contentType string) (string, error)
}

// SpeechTranscriber переводит речь в текст.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error)
}

// SpeechSynthesizer озвучивает текст.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceSettings) (Audio, error)
}

// ImageGenerator рисует изображение по промпту.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// Set - набор провайдеров, выбранный при старте сервиса.
type Set struct {
	Text        TextGenerator
	Vision      VisionAnalyzer
	Transcriber SpeechTranscriber
	Speech      SpeechSynthesizer
	Images      ImageGenerator

	Info Info
}

// Info - идентификаторы провайдеров и моделей для метаданных истории.
type Info struct {
	Simulated      bool
	TextProvider   string
	TextModel      string
	SpeechProvider string
	ImageProvider  string
}
