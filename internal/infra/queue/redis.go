package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
)

// RedisPresentationQueue надёжная очередь на Redis lists: полученная задача
// перекладывается в список обработки и удаляется оттуда только при подтверждении.
type RedisPresentationQueue struct {
	client     *redis.Client
	key        string
	processing string
	block      time.Duration
}

var _ domain.PresentationQueue = (*RedisPresentationQueue)(nil)

// NewRedisPresentationQueue создаёт очередь по указанному ключу.
func NewRedisPresentationQueue(client *redis.Client, key string) *RedisPresentationQueue {
	return &RedisPresentationQueue{client: client, key: key, processing: key + ":processing", block: time.Second}
}

// Enqueue публикует задачу в очередь.
func (q *RedisPresentationQueue) Enqueue(ctx context.Context, job domain.PresentationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Recover возвращает в очередь задачи, оставшиеся в списке обработки после аварийной остановки.
func (q *RedisPresentationQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisPresentationQueue) Receive(ctx context.Context) (domain.PresentationJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PresentationJob{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.block).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PresentationJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.PresentationJob{}, nil, err
		}

		var job domain.PresentationJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = q.client.LRem(ctx, q.processing, 1, payload).Err()
			return domain.PresentationJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ackFunc(payload), nil
	}
}

func (q *RedisPresentationQueue) ackFunc(payload string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			if !success {
				pipe.LPush(ctx, q.key, payload)
			}
			return nil
		})
		return err
	}
}
