package presentation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

// Worker читает задачи из очереди и передаёт их сервису.
type Worker struct {
	log      zerolog.Logger
	queue    domain.PresentationQueue
	statuses domain.JobStatusRepo
	service  *Service
	pause    time.Duration
}

// NewWorker создаёт обработчик очереди.
func NewWorker(logger zerolog.Logger, queue domain.PresentationQueue, statuses domain.JobStatusRepo, service *Service) *Worker {
	return &Worker{log: logger, queue: queue, statuses: statuses, service: service, pause: time.Second}
}

// Run обрабатывает задачи, пока не отменён ctx.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}
		w.handle(ctx, job, ack)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.PresentationJob, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("presentation_id", job.PresentationID).
		Str("cause", string(job.Cause)).
		Logger()

	if job.ID == "" {
		jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
		}
		return
	}

	done, attempt, err := w.statuses.EnsureJob(ctx, job.ID)
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать задачу")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
		}
		w.sleep(ctx)
		return
	}

	jobLog = jobLog.With().Int("attempt", attempt).Logger()

	if done {
		jobLog.Info().Msg("worker: задача уже обработана, подтверждаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить ранее обработанную задачу")
		}
		return
	}

	outcome := w.service.ProcessJob(ctx, job, attempt, jobLog)

	switch {
	case outcome == JobInterrupted:
		if err := ack(false); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось вернуть прерванную задачу")
		}
		return
	case outcome == JobRetry && attempt < w.service.MaxAttempts():
		if err := ack(false); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу после ошибки")
		}
		return
	case outcome == JobRetry:
		jobLog.Error().Msg("worker: достигнут предел попыток, помечаем задачу как завершённую")
	}

	if err := w.statuses.MarkJobDone(ctx, job.ID); err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу обработанной")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки статуса")
		}
		w.sleep(ctx)
		return
	}

	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
