package provider

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storytime-server/internal/config"
)

// NewSet выбирает реализацию провайдеров при старте: Simulated или Live.
// Бизнес-логика дальше не знает, какой вариант используется.
func NewSet(cfg *config.Config, logger *zap.Logger) (*Set, error) {
	if cfg.UseSimulatedProviders() {
		logger.Warn("Using simulated AI providers", zap.String("provider_mode", cfg.ProviderMode))
		sim := &Simulated{}
		return &Set{
			Text:        sim,
			Vision:      sim,
			Transcriber: sim,
			Speech:      sim,
			Images:      sim,
			Info: Info{
				Simulated:      true,
				TextProvider:   simulatedName,
				TextModel:      simulatedName,
				SpeechProvider: simulatedName,
				ImageProvider:  simulatedName,
			},
		}, nil
	}

	set := &Set{Info: Info{SpeechProvider: openAIName}}
	var openai *OpenAIProvider
	if cfg.AIAPIKey != "" {
		openai = NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.AIAPIKey,
			BaseURL:     cfg.AIBaseURL,
			TextModel:   cfg.AITextModel,
			VisionModel: cfg.AIVisionModel,
			TTSModel:    cfg.AITTSModel,
			TTSVoice:    cfg.AITTSVoice,
			ImageModel:  cfg.AIImageModel,
			Timeout:     cfg.AITimeout,
		}, logger)
	}

	switch strings.ToLower(cfg.TextBackend) {
	case "openai":
		if openai == nil {
			return nil, fmt.Errorf("text backend openai requires an API key")
		}
		set.Text = openai
		set.Info.TextProvider, set.Info.TextModel = openAIName, cfg.AITextModel
	case "ollama":
		gen, err := NewOllamaTextGenerator(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.AITimeout, logger)
		if err != nil {
			return nil, err
		}
		set.Text = gen
		set.Info.TextProvider, set.Info.TextModel = ollamaName, cfg.OllamaModel
	default:
		return nil, fmt.Errorf("unknown text backend %q", cfg.TextBackend)
	}

	switch strings.ToLower(cfg.ImageBackend) {
	case "openai":
		if openai == nil {
			return nil, fmt.Errorf("image backend openai requires an API key")
		}
		set.Images = openai
		set.Info.ImageProvider = openAIName
	case "sana":
		set.Images = NewSanaImageGenerator(cfg.SanaBaseURL, cfg.AITimeout, logger)
		set.Info.ImageProvider = sanaName
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.ImageBackend)
	}

	// Зрение, распознавание и синтез речи доступны только через OpenAI.
	if openai == nil {
		return nil, fmt.Errorf("vision, transcription and narration require an OpenAI API key")
	}
	set.Vision = openai
	set.Transcriber = openai
	set.Speech = openai

	return set, nil
}
