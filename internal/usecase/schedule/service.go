package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

const (
	defaultStaleAfter = 10 * time.Minute
	defaultBatch      = 100
)

// Failer переводит зависшую презентацию в failed.
type Failer interface {
	Fail(ctx context.Context, p domain.Presentation, message string, logger zerolog.Logger)
}

// Service находит презентации, застрявшие в generating, и возвращает их задачи в очередь.
type Service struct {
	presentations domain.PresentationRepo
	statuses      domain.JobStatusRepo
	queue         domain.PresentationQueue
	failer        Failer
	log           zerolog.Logger
	staleAfter    time.Duration
	maxAttempts   int
	now           func() time.Time
}

// NewService создаёт сервис восстановления задач.
func NewService(presentations domain.PresentationRepo, statuses domain.JobStatusRepo, queue domain.PresentationQueue, failer Failer, staleAfter time.Duration, maxAttempts int, logger zerolog.Logger) *Service {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		presentations: presentations,
		statuses:      statuses,
		queue:         queue,
		failer:        failer,
		log:           logger,
		staleAfter:    staleAfter,
		maxAttempts:   maxAttempts,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SweepResult итог одного прохода.
type SweepResult struct {
	Requeued int
	Failed   int
}

// Sweep обрабатывает зависшие презентации. Задача повторяется под тем же job_id, чтобы
// попытки суммировались; после исчерпания попыток презентация помечается failed.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	stale, err := s.presentations.ListStale(ctx, s.now().Add(-s.staleAfter), defaultBatch)
	if err != nil {
		return res, fmt.Errorf("выборка зависших презентаций: %w", err)
	}

	for _, p := range stale {
		pLog := s.log.With().Str("presentation_id", p.ID).Str("job_id", p.JobID).Logger()

		attempts := 0
		if p.JobID != "" {
			attempts, err = s.statuses.JobAttempts(ctx, p.JobID)
			if err != nil {
				pLog.Error().Err(err).Msg("scheduler: не удалось получить число попыток")
				continue
			}
		}
		if attempts >= s.maxAttempts {
			s.failer.Fail(ctx, p, fmt.Sprintf("генерация не завершилась за %d попыток", attempts), pLog)
			res.Failed++
			continue
		}

		jobID := p.JobID
		if jobID == "" {
			jobID = p.ID
		}
		if err := s.presentations.ReassignJob(ctx, p.ID, jobID); err != nil {
			pLog.Warn().Err(err).Msg("scheduler: не удалось обновить задачу презентации")
			continue
		}
		job := domain.PresentationJob{
			ID:             jobID,
			PresentationID: p.ID,
			DraftID:        p.DraftID,
			UserID:         p.UserID,
			RequestedAt:    s.now(),
			Cause:          domain.JobCauseRecovered,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			pLog.Error().Err(err).Msg("scheduler: не удалось вернуть задачу в очередь")
			continue
		}
		pLog.Info().Int("attempts", attempts).Msg("scheduler: задача возвращена в очередь")
		res.Requeued++
	}
	return res, nil
}
