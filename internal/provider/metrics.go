package provider

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"storytime-server/internal/model"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storytime_provider_requests_total",
			Help: "Total number of requests to AI providers.",
		},
		[]string{"provider", "op", "status"},
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storytime_provider_request_duration_seconds",
			Help:    "Histogram of AI provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)
	providerTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storytime_provider_tokens",
			Help:    "Histogram of token counts per text completion.",
			Buckets: prometheus.LinearBuckets(100, 200, 15),
		},
		[]string{"provider", "kind"},
	)
)

// observe записывает метрики вызова провайдера.
func observe(provider, op string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNonRetryableProvider):
		status = "error_fatal"
	default:
		status = "error_transient"
	}
	providerRequestsTotal.WithLabelValues(provider, op, status).Inc()
	providerRequestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}

func observeUsage(provider string, u Usage) {
	if u.TotalTokens == 0 {
		return
	}
	providerTokens.WithLabelValues(provider, "prompt").Observe(float64(u.PromptTokens))
	providerTokens.WithLabelValues(provider, "completion").Observe(float64(u.CompletionTokens))
}
