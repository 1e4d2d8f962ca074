package app

import (
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/adapters/enhancer"
	outlinegen "dossier-ai/internal/adapters/outline"
	"dossier-ai/internal/adapters/research"
	"dossier-ai/internal/adapters/slides"
	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/config"
	logpkg "dossier-ai/internal/infra/log"
	"dossier-ai/internal/usecase/drafts"
	outlineuc "dossier-ai/internal/usecase/outline"
	"dossier-ai/internal/usecase/presentation"
	"dossier-ai/internal/usecase/schedule"
	"dossier-ai/internal/usecase/users"
)

// Services сценарии приложения поверх выбранных бэкендов.
type Services struct {
	Outline       *outlineuc.Service
	Presentations *presentation.Service
	Drafts        *drafts.Service
	Users         *users.Service
}

// NewServices собирает сценарии. model и searcher нужны только для генерации.
func NewServices(b *Backends, model domain.LLM, searcher domain.Searcher, cfg config.AppConfig, logger zerolog.Logger) Services {
	userService := users.NewService(b.Store)
	return Services{
		Outline: outlineuc.NewService(
			enhancer.New(model),
			research.NewAggregator(searcher, model, logpkg.Component(logger, "research")),
			outlinegen.NewGenerator(model, logpkg.Component(logger, "outline_generator")),
			b.Store,
			b.Store,
			logpkg.Component(logger, "outline"),
		),
		Presentations: presentation.NewService(presentation.Deps{
			Presentations: b.Store,
			Drafts:        b.Store,
			Users:         userService,
			Queue:         b.Queue,
			Generator:     slides.NewGenerator(model),
			Notifier:      b.Notifier,
			Analytics:     b.Store,
		}, presentation.Config{MaxAttempts: cfg.Jobs.MaxAttempts}, logpkg.Component(logger, "presentation")),
		Drafts: drafts.NewService(b.Store),
		Users:  userService,
	}
}

// NewWorker создаёт обработчик очереди презентаций.
func NewWorker(b *Backends, s Services, logger zerolog.Logger) *presentation.Worker {
	return presentation.NewWorker(logpkg.Component(logger, "worker"), b.Queue, b.Store, s.Presentations)
}

// NewSweeper создаёт поиск зависших генераций.
func NewSweeper(b *Backends, s Services, cfg config.AppConfig, logger zerolog.Logger) *schedule.Service {
	return schedule.NewService(b.Store, b.Store, b.Queue, s.Presentations, cfg.Jobs.StaleAfter, cfg.Jobs.MaxAttempts, logpkg.Component(logger, "scheduler"))
}

// SweepInterval период поиска зависших генераций.
const SweepInterval = time.Minute
