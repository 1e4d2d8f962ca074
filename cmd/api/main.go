package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dossier-ai/internal/app"
	"dossier-ai/internal/infra/config"
	httpinfra "dossier-ai/internal/infra/http"
	logpkg "dossier-ai/internal/infra/log"
	"dossier-ai/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подключить бэкенды")
	}
	defer backends.Close()

	model, err := app.NewLLM(cfg, logpkg.Component(logger, "llm"))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать клиента LLM")
	}
	searcher := app.NewSearch(cfg, backends.Cache, logpkg.Component(logger, "search"))
	services := app.NewServices(backends, model, searcher, cfg, logger)

	auth := httpinfra.NewAuthenticator(httpinfra.AuthConfig{
		JWTSecret:      cfg.Supabase.JWTSecret,
		SupabaseURL:    cfg.Supabase.URL,
		ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
		AllowDevHeader: cfg.AllowDevHeader(),
	}, logpkg.Component(logger, "auth"))
	if auth.Mode() == "disabled" {
		logger.Warn().Msg("api: проверка сессий не настроена, защищённые маршруты вернут 401")
	}

	handlers := &api{
		log:           logpkg.Component(logger, "api"),
		outlines:      services.Outline,
		presentations: services.Presentations,
		drafts:        services.Drafts,
		users:         services.Users,
		auth:          auth,
		heartbeat:     defaultHeartbeat,
		health: health{
			Store:    backends.StoreName,
			Queue:    backends.QueueName,
			Notifier: backends.NotifierName,
			Search:   searcher.Backend(),
			Auth:     auth.Mode(),
		},
	}

	if backends.InProcess() {
		logger.Info().Msg("api: очередь в памяти, воркер и планировщик запущены в процессе API")
		go app.NewWorker(backends, services, logger).Run(ctx)
		go app.RunSweeps(ctx, app.NewSweeper(backends, services, cfg, logger), backends.Cache, app.SweepInterval, logpkg.Component(logger, "scheduler"))
	}

	srv := httpinfra.NewServer(logpkg.Component(logger, "http"), cfg.AppURL)
	handlers.routes(srv.Router)

	metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
