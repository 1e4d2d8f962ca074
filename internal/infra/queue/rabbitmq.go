package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
)

// RabbitPresentationQueue реализует очередь задач через AMQP.
type RabbitPresentationQueue struct {
	url   string
	queue string

	mu         sync.Mutex
	conn       *amqp.Connection
	pubCh      *amqp.Channel
	consumeCh  *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ domain.PresentationQueue = (*RabbitPresentationQueue)(nil)

// NewRabbitPresentationQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitPresentationQueue(amqpURL, queue string) (*RabbitPresentationQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	q := &RabbitPresentationQueue{url: amqpURL, queue: queue}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitPresentationQueue) connectLocked() error {
	if q.conn != nil && !q.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp declare queue: %w", err)
	}
	q.conn = conn
	q.pubCh = ch
	q.consumeCh = nil
	q.deliveries = nil
	return nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitPresentationQueue) Enqueue(ctx context.Context, job domain.PresentationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return err
	}
	start := time.Now()
	err = q.pubCh.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *RabbitPresentationQueue) consumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return nil, err
	}
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	q.consumeCh = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitPresentationQueue) resetConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumeCh != nil {
		_ = q.consumeCh.Close()
	}
	q.consumeCh = nil
	q.deliveries = nil
}

// Receive блокирующе читает задачу. Неподтверждённая задача возвращается брокером в очередь.
func (q *RabbitPresentationQueue) Receive(ctx context.Context) (domain.PresentationJob, domain.AckFunc, error) {
	for {
		deliveries, err := q.consumer()
		if err != nil {
			return domain.PresentationJob{}, nil, err
		}
		select {
		case <-ctx.Done():
			return domain.PresentationJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				q.resetConsumer()
				return domain.PresentationJob{}, nil, errors.New("amqp: канал доставки закрыт")
			}
			var job domain.PresentationJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Nack(false, false)
				return domain.PresentationJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			delivery := d
			return job, func(success bool) error {
				if success {
					return delivery.Ack(false)
				}
				return delivery.Nack(false, true)
			}, nil
		}
	}
}

// Close закрывает соединение с брокером.
func (q *RabbitPresentationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
