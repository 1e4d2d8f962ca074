package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	OutlineBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outline_build_seconds",
		Help:    "Время построения плана презентации",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120, 180, 240, 300},
	}, []string{"mode"})

	OutlineRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outline_requests_total",
		Help: "Количество запросов на построение плана",
	}, []string{"mode", "outcome"})

	PresentationJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presentation_jobs_total",
		Help: "Обработанные задачи генерации презентаций",
	}, []string{"outcome"})

	PresentationJobSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "presentation_job_seconds",
		Help:    "Длительность генерации слайдов",
		Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180, 240, 300, 450, 600},
	})

	SSEConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sse_connections",
		Help: "Открытые SSE соединения",
	}, []string{"stream"})

	SearchFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "search_fallback_total",
		Help: "Поисковые запросы, завершившиеся заглушкой или пустым ответом",
	}, []string{"reason"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 240, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180},
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	LLMRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_retries_total",
		Help: "Повторные попытки вызова LLM",
	}, []string{"model"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		OutlineBuildSeconds,
		OutlineRequestsTotal,
		PresentationJobsTotal,
		PresentationJobSeconds,
		SSEConnections,
		SearchFallbackTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		LLMRetriesTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, inputTokens, outputTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if inputTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// ObserveOutline фиксирует результат построения плана.
func ObserveOutline(mode string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	OutlineRequestsTotal.WithLabelValues(mode, outcome).Inc()
	OutlineBuildSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// ObservePresentationJob фиксирует результат обработки задачи.
func ObservePresentationJob(outcome string, start time.Time) {
	PresentationJobsTotal.WithLabelValues(outcome).Inc()
	PresentationJobSeconds.Observe(time.Since(start).Seconds())
}
