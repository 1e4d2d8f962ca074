package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"dossier-ai/internal/app"
	"dossier-ai/internal/infra/config"
	logpkg "dossier-ai/internal/infra/log"
	"dossier-ai/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr)

	backends, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось подключить бэкенды")
	}
	defer backends.Close()
	if backends.InProcess() {
		logger.Fatal().Msg("worker: очередь не настроена (REDIS_ADDR или RABBITMQ_URL), задачи обрабатывает процесс API")
	}

	recovered, err := backends.RecoverQueue(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("worker: не удалось вернуть незавершённые задачи")
	} else if recovered > 0 {
		logger.Info().Int("jobs", recovered).Msg("worker: незавершённые задачи возвращены в очередь")
	}

	model, err := app.NewLLM(cfg, logpkg.Component(logger, "llm"))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиента LLM")
	}
	searcher := app.NewSearch(cfg, backends.Cache, logpkg.Component(logger, "search"))
	services := app.NewServices(backends, model, searcher, cfg, logger)

	concurrency := cfg.Jobs.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		worker := app.NewWorker(backends, services, logger.With().Int("worker", i).Logger())
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}
	logger.Info().Int("concurrency", concurrency).Str("queue", backends.QueueName).Msg("worker: старт")
	_ = g.Wait()
	logger.Info().Msg("worker: остановка")
}
