package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const ollamaName = "ollama"

// OllamaTextGenerator генерирует текст локальной моделью через Ollama.
type OllamaTextGenerator struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

var _ TextGenerator = (*OllamaTextGenerator)(nil)

// NewOllamaTextGenerator создает клиента Ollama. baseURL указывается без суффикса /v1.
func NewOllamaTextGenerator(baseURL, model string, timeout time.Duration, logger *zap.Logger) (*OllamaTextGenerator, error) {
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL %q: %w", baseURL, err)
	}

	logger.Info("Ollama client created",
		zap.String("base_url", baseURL),
		zap.String("model", model),
		zap.Duration("timeout", timeout),
	)
	return &OllamaTextGenerator{
		client:  api.NewClient(parsedURL, &http.Client{Timeout: timeout}),
		model:   model,
		timeout: timeout,
		logger:  logger.Named("Ollama"),
	}, nil
}

// Complete выполняет не потоковый chat-запрос.
func (g *OllamaTextGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) (Completion, error) {
	start := time.Now()
	messages := make([]api.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userPrompt})

	stream := false
	req := &api.ChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}

	requestCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var resp api.ChatResponse
	err := g.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		err = classify(ollamaName, "chat", err)
		observe(ollamaName, "chat", start, err)
		return Completion{}, err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		err = emptyResponse(ollamaName, "chat")
		observe(ollamaName, "chat", start, err)
		return Completion{}, err
	}
	observe(ollamaName, "chat", start, nil)

	usage := Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	observeUsage(ollamaName, usage)
	g.logger.Debug("Chat completion received",
		zap.Duration("duration", time.Since(start)),
		zap.String("done_reason", resp.DoneReason),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
	return Completion{Text: resp.Message.Content, Usage: usage}, nil
}
