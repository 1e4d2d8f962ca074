package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
)

const channelPrefix = "presentation:status:"

// RedisNotifier рассылает статусы через Redis pub/sub, чтобы API и воркер могли жить в разных процессах.
type RedisNotifier struct {
	client *redis.Client
}

var _ domain.StatusNotifier = (*RedisNotifier)(nil)

// NewRedis создаёт нотификатор поверх клиента Redis.
func NewRedis(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func channel(presentationID string) string {
	return channelPrefix + presentationID
}

// Publish отправляет статус подписчикам.
func (n *RedisNotifier) Publish(ctx context.Context, presentationID string, status domain.PresentationStatus) error {
	start := time.Now()
	err := n.client.Publish(ctx, channel(presentationID), string(status)).Err()
	metrics.ObserveNetworkRequest("redis", "publish", channelPrefix, start, err)
	if err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Subscribe подписывается на статусы презентации. Возвращённая функция закрывает подписку.
func (n *RedisNotifier) Subscribe(ctx context.Context, presentationID string) (<-chan domain.PresentationStatus, func(), error) {
	sub := n.client.Subscribe(ctx, channel(presentationID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe status: %w", err)
	}

	out := make(chan domain.PresentationStatus, 4)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- domain.PresentationStatus(msg.Payload):
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}
