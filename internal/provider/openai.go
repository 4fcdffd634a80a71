package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storytime-server/internal/prompt"
	"storytime-server/internal/storytext"
)

const openAIName = "openai"

// OpenAIConfig - настройки клиента OpenAI-совместимого API.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
	TTSModel    string
	TTSVoice    string
	ImageModel  string
	Timeout     time.Duration
}

// OpenAIProvider реализует все пять провайдеров через go-openai.
type OpenAIProvider struct {
	client *openaigo.Client
	cfg    OpenAIConfig
	logger *zap.Logger
}

var (
	_ TextGenerator     = (*OpenAIProvider)(nil)
	_ VisionAnalyzer    = (*OpenAIProvider)(nil)
	_ SpeechTranscriber = (*OpenAIProvider)(nil)
	_ SpeechSynthesizer = (*OpenAIProvider)(nil)
	_ ImageGenerator    = (*OpenAIProvider)(nil)
)

// NewOpenAIProvider создает клиента OpenAI.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger.Info("OpenAI client created",
		zap.String("base_url", clientCfg.BaseURL),
		zap.String("text_model", cfg.TextModel),
		zap.Duration("timeout", cfg.Timeout),
	)
	return &OpenAIProvider{
		client: openaigo.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.Named("OpenAI"),
	}
}

// Complete генерирует текст chat-моделью.
func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) (Completion, error) {
	start := time.Now()
	messages := make([]openaigo.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userPrompt})

	resp, err := p.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       p.cfg.TextModel,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		err = classify(openAIName, "chat", err)
		observe(openAIName, "chat", start, err)
		return Completion{}, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err = emptyResponse(openAIName, "chat")
		observe(openAIName, "chat", start, err)
		return Completion{}, err
	}
	observe(openAIName, "chat", start, nil)

	text := resp.Choices[0].Message.Content
	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage = p.estimateUsage(systemPrompt+userPrompt, text)
	}
	observeUsage(openAIName, usage)

	p.logger.Debug("Chat completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_len", len(text)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
	return Completion{Text: text, Usage: usage}, nil
}

// estimateUsage считает токены локально, если API не вернул usage.
func (p *OpenAIProvider) estimateUsage(promptText, completion string) Usage {
	tke, err := tiktoken.EncodingForModel(p.cfg.TextModel)
	if err != nil {
		p.logger.Debug("Tokenizer unavailable, usage left empty", zap.String("model", p.cfg.TextModel), zap.Error(err))
		return Usage{}
	}
	promptTokens := len(tke.Encode(promptText, nil, nil))
	completionTokens := len(tke.Encode(completion, nil, nil))
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// Describe описывает рисунок vision-моделью.
func (p *OpenAIProvider) Describe(ctx context.Context, image []byte, contentType string) (string, error) {
	start := time.Now()
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}
	dataURI := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := p.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: p.cfg.VisionModel,
		Messages: []openaigo.ChatCompletionMessage{{
			Role: openaigo.ChatMessageRoleUser,
			MultiContent: []openaigo.ChatMessagePart{
				{Type: openaigo.ChatMessagePartTypeText, Text: prompt.VisionPrompt},
				{Type: openaigo.ChatMessagePartTypeImageURL, ImageURL: &openaigo.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openaigo.ImageURLDetailLow,
				}},
			},
		}},
		MaxTokens: 300,
	})
	if err != nil {
		err = classify(openAIName, "vision", err)
		observe(openAIName, "vision", start, err)
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err = emptyResponse(openAIName, "vision")
		observe(openAIName, "vision", start, err)
		return "", err
	}
	observe(openAIName, "vision", start, nil)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcribe распознает речь моделью whisper.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error) {
	start := time.Now()
	resp, err := p.client.CreateTranscription(ctx, openaigo.AudioRequest{
		Model:    openaigo.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: "voice" + audioExtension(contentType),
		Language: language,
		Format:   openaigo.AudioResponseFormatJSON,
	})
	if err != nil {
		err = classify(openAIName, "transcription", err)
		observe(openAIName, "transcription", start, err)
		return "", err
	}
	observe(openAIName, "transcription", start, nil)
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize озвучивает текст TTS-моделью.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, voice VoiceSettings) (Audio, error) {
	start := time.Now()
	voiceName := voice.Voice
	if voiceName == "" {
		voiceName = p.cfg.TTSVoice
	}
	resp, err := p.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
		Model:          openaigo.SpeechModel(p.cfg.TTSModel),
		Input:          text,
		Voice:          openaigo.SpeechVoice(voiceName),
		ResponseFormat: openaigo.SpeechResponseFormatMp3,
		Speed:          voice.Speed,
	})
	if err != nil {
		err = classify(openAIName, "speech", err)
		observe(openAIName, "speech", start, err)
		return Audio{}, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		err = classify(openAIName, "speech", fmt.Errorf("read speech body: %w", err))
		observe(openAIName, "speech", start, err)
		return Audio{}, err
	}
	if len(data) == 0 {
		err = emptyResponse(openAIName, "speech")
		observe(openAIName, "speech", start, err)
		return Audio{}, err
	}
	observe(openAIName, "speech", start, nil)
	return Audio{
		Data:            data,
		ContentType:     "audio/mpeg",
		DurationSeconds: storytext.EstimateNarrationSeconds(text),
	}, nil
}

// Generate рисует иллюстрацию.
func (p *OpenAIProvider) Generate(ctx context.Context, imagePrompt string) (Image, error) {
	start := time.Now()
	resp, err := p.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         imagePrompt,
		Model:          p.cfg.ImageModel,
		N:              1,
		Size:           openaigo.CreateImageSize1024x1024,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		err = classify(openAIName, "image", err)
		observe(openAIName, "image", start, err)
		return Image{}, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		err = emptyResponse(openAIName, "image")
		observe(openAIName, "image", start, err)
		return Image{}, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		err = emptyResponse(openAIName, "image")
		observe(openAIName, "image", start, err)
		return Image{}, err
	}
	observe(openAIName, "image", start, nil)
	return Image{Data: data, ContentType: "image/png"}, nil
}

var audioExtensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/m4a":   ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
}

// audioExtension подбирает расширение файла: whisper определяет формат по имени.
func audioExtension(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ext, ok := audioExtensions[ct]; ok {
		return ext
	}
	return ".webm"
}
