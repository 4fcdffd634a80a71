package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"storytime-server/internal/prompt"
	"storytime-server/internal/storytext"
)

const simulatedName = "simulated"

// Simulated - детерминированные провайдеры для локальной разработки без ключей API.
type Simulated struct {
	// Latency имитирует задержку сети на каждый вызов.
	Latency time.Duration
}

var (
	_ TextGenerator     = (*Simulated)(nil)
	_ VisionAnalyzer    = (*Simulated)(nil)
	_ SpeechTranscriber = (*Simulated)(nil)
	_ SpeechSynthesizer = (*Simulated)(nil)
	_ ImageGenerator    = (*Simulated)(nil)
)

var simulatedStories = []string{
	"Once upon a time, a little fox named Pip found a glowing pebble by the river. " +
		"Pip showed the pebble to her friend Owl, and together they followed its soft light through the meadow. " +
		"The light led them to a hidden garden full of singing flowers. " +
		"The flowers taught them a happy song about sharing. " +
		"Pip and Owl sang it all the way home, and everyone in the forest smiled. The end.",
	"On a sunny morning, a small robot called Bolt wanted to learn how to paint. " +
		"He asked the clouds for white, the sky for blue and the sun for a warm yellow. " +
		"With every color, Bolt painted a new friend on the big wall of the town square. " +
		"Soon the children came to paint with him, and the wall became a rainbow of smiles. " +
		"Bolt learned that art is best when it is shared. The end.",
	"Deep in the ocean, a tiny turtle named Mira collected shiny shells. " +
		"One day she met a shy crab who had no shells at all. " +
		"Mira gave him her favorite blue shell, and the crab did a happy dance. " +
		"From that day on, they searched the sea together and found more treasures than ever. " +
		"Mira discovered that kindness makes every treasure shine brighter. The end.",
}

var simulatedTitles = []string{"The Glowing Pebble", "Bolt Paints the Town", "Mira and the Blue Shell"}

// 1x1 прозрачный PNG
var placeholderPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

func pick(seed string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int(h.Sum32() % uint32(n))
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete возвращает заготовленную историю или заголовок, выбранные по промпту.
func (s *Simulated) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) (Completion, error) {
	if err := s.wait(ctx); err != nil {
		return Completion{}, err
	}
	idx := pick(userPrompt, len(simulatedStories))
	text := simulatedStories[idx]
	if systemPrompt == prompt.TitleSystemPrompt {
		text = simulatedTitles[pick(userPrompt, len(simulatedTitles))]
	}
	words := storytext.CountWords(userPrompt)
	out := storytext.CountWords(text)
	return Completion{
		Text:  text,
		Usage: Usage{PromptTokens: words, CompletionTokens: out, TotalTokens: words + out},
	}, nil
}

// Describe возвращает шаблонное описание рисунка.
func (s *Simulated) Describe(ctx context.Context, image []byte, contentType string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("A colorful drawing (%d bytes) of a friendly animal under a bright sun.", len(image)), nil
}

// Transcribe возвращает шаблонную расшифровку.
func (s *Simulated) Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return "I want a story about a friendly animal who helps everyone.", nil
}

// Synthesize возвращает фиктивный аудиофайл с оценкой длительности.
func (s *Simulated) Synthesize(ctx context.Context, text string, voice VoiceSettings) (Audio, error) {
	if err := s.wait(ctx); err != nil {
		return Audio{}, err
	}
	data := append([]byte("ID3"), []byte(strings.TrimSpace(text))...)
	return Audio{
		Data:            data,
		ContentType:     "audio/mpeg",
		DurationSeconds: storytext.EstimateNarrationSeconds(text),
	}, nil
}

// Generate возвращает прозрачный PNG 1x1.
func (s *Simulated) Generate(ctx context.Context, imagePrompt string) (Image, error) {
	if err := s.wait(ctx); err != nil {
		return Image{}, err
	}
	return Image{Data: append([]byte(nil), placeholderPNG...), ContentType: "image/png"}, nil
}
