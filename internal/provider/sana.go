package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const sanaName = "sana"

// SanaImageGenerator рисует иллюстрации через HTTP-сервер SANA.
type SanaImageGenerator struct {
	baseURL string
	ratio   string
	client  *http.Client
	logger  *zap.Logger
}

var _ ImageGenerator = (*SanaImageGenerator)(nil)

// sanaRequest - тело запроса к SANA API.
type sanaRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio,omitempty"`
}

// NewSanaImageGenerator создает клиента SANA.
func NewSanaImageGenerator(baseURL string, timeout time.Duration, logger *zap.Logger) *SanaImageGenerator {
	return &SanaImageGenerator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ratio:   "4:3",
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("Sana"),
	}
}

// Generate отправляет промпт и возвращает байты изображения.
func (g *SanaImageGenerator) Generate(ctx context.Context, imagePrompt string) (Image, error) {
	start := time.Now()
	img, err := g.call(ctx, imagePrompt)
	observe(sanaName, "image", start, err)
	return img, err
}

func (g *SanaImageGenerator) call(ctx context.Context, imagePrompt string) (Image, error) {
	endpointURL := g.baseURL + "/generate"
	log := g.logger.With(zap.String("url", endpointURL))

	body, err := json.Marshal(sanaRequest{Prompt: imagePrompt, Ratio: g.ratio})
	if err != nil {
		return Image{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return Image{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := g.client.Do(req)
	if err != nil {
		log.Warn("SANA request failed", zap.Error(err))
		return Image{}, classify(sanaName, "image", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Warn("SANA API returned non-OK status", zap.Int("status_code", resp.StatusCode))
		return Image{}, statusError(sanaName, "image", resp.StatusCode, string(data))
	}
	if readErr != nil {
		return Image{}, classify(sanaName, "image", fmt.Errorf("failed to read response body: %w", readErr))
	}
	if len(data) == 0 {
		return Image{}, emptyResponse(sanaName, "image")
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: contentType}, nil
}
