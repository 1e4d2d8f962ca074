package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/usecase/schedule"
)

const sweepLockKey = "lock:stale-sweep"

// RunSweeps раз в interval ищет зависшие генерации, пока не отменён ctx.
// Блокировка не даёт нескольким экземплярам выполнять проход одновременно.
func RunSweeps(ctx context.Context, sweeper *schedule.Service, lock Locker, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ran, err := lock.Once(ctx, sweepLockKey, interval/2, func() error {
			res, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if res.Requeued > 0 || res.Failed > 0 {
				logger.Info().Int("requeued", res.Requeued).Int("failed", res.Failed).Msg("scheduler: зависшие генерации обработаны")
			}
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка прохода")
			continue
		}
		if !ran {
			logger.Debug().Msg("scheduler: проход уже выполняется другим экземпляром")
		}
	}
}
