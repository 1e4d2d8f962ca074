package presentation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

// JobOutcome результат обработки задачи.
type JobOutcome int

const (
	// JobCompleted задача обработана окончательно, успешно или с ошибкой.
	JobCompleted JobOutcome = iota
	// JobRetry задачу нужно доставить повторно.
	JobRetry
	// JobInterrupted обработка прервана остановкой процесса, попытка не считается финальной.
	JobInterrupted
)

// ProcessJob генерирует слайды для презентации из задачи.
func (s *Service) ProcessJob(ctx context.Context, job domain.PresentationJob, attempt int, jobLog zerolog.Logger) JobOutcome {
	start := time.Now()

	p, err := s.presentations.GetPresentation(ctx, job.PresentationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			jobLog.Warn().Msg("presentation: презентация удалена, пропускаем задачу")
			observeJob("dropped", start)
			return JobCompleted
		}
		jobLog.Error().Err(err).Msg("presentation: не удалось загрузить презентацию")
		return s.retryOutcome(ctx)
	}
	if p.Status.Terminal() {
		jobLog.Info().Str("status", string(p.Status)).Msg("presentation: статус уже финальный, пропускаем задачу")
		observeJob("dropped", start)
		return JobCompleted
	}
	if p.JobID != "" && p.JobID != job.ID {
		jobLog.Warn().Str("current_job_id", p.JobID).Msg("presentation: устаревшая задача, пропускаем")
		observeJob("dropped", start)
		return JobCompleted
	}

	research, err := s.loadResearch(ctx, p.DraftID)
	if err != nil {
		return s.failOrRetry(ctx, p, attempt, err, jobLog, start)
	}

	slides, usage, err := s.generator.GenerateSlides(ctx, p.Outline, research, p.CitationStyle)
	if err != nil {
		return s.failOrRetry(ctx, p, attempt, err, jobLog, start)
	}

	if err := s.presentations.CompletePresentation(ctx, p.ID, slides, usage); err != nil {
		if errors.Is(err, domain.ErrNotGenerating) || errors.Is(err, domain.ErrNotFound) {
			jobLog.Info().Err(err).Msg("presentation: презентация уже завершена другой попыткой")
			observeJob("dropped", start)
			return JobCompleted
		}
		jobLog.Error().Err(err).Msg("presentation: не удалось сохранить слайды")
		return s.retryOutcome(ctx)
	}

	s.notify(ctx, p.ID, domain.PresentationCompleted)
	s.recordMetric(ctx, domain.BusinessMetricEventPresentationCompleted, p.UserID, map[string]any{
		"presentation_id": p.ID,
		"slides":          len(slides),
		"attempt":         attempt,
		"total_tokens":    usage.TotalTokens,
	})
	observeJob("completed", start)
	jobLog.Info().Int("slides", len(slides)).Int("total_tokens", usage.TotalTokens).Msg("presentation: генерация завершена")
	return JobCompleted
}

func (s *Service) loadResearch(ctx context.Context, draftID string) (*domain.ResearchData, error) {
	if draftID == "" || s.drafts == nil {
		return nil, nil
	}
	draft, err := s.drafts.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return draft.Research, nil
}

func (s *Service) retryOutcome(ctx context.Context) JobOutcome {
	if ctx.Err() != nil {
		return JobInterrupted
	}
	return JobRetry
}

func (s *Service) failOrRetry(ctx context.Context, p domain.Presentation, attempt int, cause error, jobLog zerolog.Logger, start time.Time) JobOutcome {
	if ctx.Err() != nil {
		jobLog.Warn().Err(cause).Msg("presentation: генерация прервана остановкой")
		return JobInterrupted
	}
	if attempt < s.cfg.MaxAttempts {
		jobLog.Warn().Err(cause).Msg("presentation: ошибка генерации, повторим")
		observeJob("retry", start)
		return JobRetry
	}
	s.Fail(ctx, p, cause.Error(), jobLog)
	observeJob("failed", start)
	return JobCompleted
}

// Fail переводит презентацию в failed и уведомляет подписчиков.
func (s *Service) Fail(ctx context.Context, p domain.Presentation, message string, logger zerolog.Logger) {
	if err := s.presentations.FailPresentation(ctx, p.ID, clipMessage(message)); err != nil {
		if errors.Is(err, domain.ErrNotGenerating) {
			return
		}
		logger.Error().Err(err).Msg("presentation: не удалось сохранить статус failed")
		return
	}
	logger.Error().Str("reason", message).Msg("presentation: генерация завершилась ошибкой")
	s.notify(ctx, p.ID, domain.PresentationFailed)
	s.recordMetric(ctx, domain.BusinessMetricEventPresentationFailed, p.UserID, map[string]any{
		"presentation_id": p.ID,
		"error":           clipMessage(message),
	})
}
