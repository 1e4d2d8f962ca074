package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

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

	backends, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось подключить бэкенды")
	}
	defer backends.Close()
	if backends.InProcess() || backends.StoreName == "memory" {
		logger.Fatal().Msg("scheduler: нужны общие хранилище и очередь (PG_DSN и REDIS_ADDR или RABBITMQ_URL)")
	}

	// Проход не вызывает модель: Fail только пишет статус, поэтому клиенты LLM и поиска не нужны.
	services := app.NewServices(backends, nil, nil, cfg, logger)
	sweeper := app.NewSweeper(backends, services, cfg, logger)

	logger.Info().Dur("stale_after", cfg.Jobs.StaleAfter).Msg("scheduler: старт")
	app.RunSweeps(ctx, sweeper, backends.Cache, app.SweepInterval, logpkg.Component(logger, "scheduler"))
	logger.Info().Msg("scheduler: остановка")
}
