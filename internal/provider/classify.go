package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"

	"storytime-server/internal/model"
)

// RetryableStatus сообщает, имеет ли смысл повторять запрос с таким HTTP-статусом.
// 429 с исчерпанной квотой повторять бесполезно.
func RetryableStatus(status int, detail string) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return !isQuotaExhausted(detail)
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	}
	return true
}

func isQuotaExhausted(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "insufficient_quota") || strings.Contains(d, "quota exceeded") ||
		strings.Contains(d, "billing")
}

// classify превращает ошибку клиента в *model.ProviderError с признаком повторяемости.
func classify(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	status, detail, retryable := 0, err.Error(), true

	var apiErr *openaigo.APIError
	var reqErr *openaigo.RequestError
	var ollamaErr api.StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		retryable = false
	case errors.Is(err, context.DeadlineExceeded):
		retryable = true
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if code, ok := apiErr.Code.(string); ok {
			detail = code + " " + apiErr.Type + " " + apiErr.Message
		} else {
			detail = apiErr.Type + " " + apiErr.Message
		}
		retryable = RetryableStatus(status, detail)
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		retryable = RetryableStatus(status, string(reqErr.Body))
	case errors.As(err, &ollamaErr):
		status = ollamaErr.StatusCode
		retryable = RetryableStatus(status, ollamaErr.ErrorMessage)
	case errors.As(err, &netErr):
		retryable = true
	}

	return &model.ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: status,
		Retryable:  retryable,
		Err:        err,
	}
}

// statusError - ошибка HTTP-ответа провайдера без собственного клиента.
func statusError(provider, op string, status int, body string) error {
	return &model.ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: status,
		Retryable:  RetryableStatus(status, body),
		Err:        errors.New(strings.TrimSpace(truncate(body, 300))),
	}
}

// emptyResponse - провайдер ответил успешно, но без данных. Считается временной ошибкой.
func emptyResponse(provider, op string) error {
	return &model.ProviderError{Provider: provider, Op: op, Retryable: true, Err: errors.New("empty response")}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
