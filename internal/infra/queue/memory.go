package queue

import (
	"context"

	"dossier-ai/internal/domain"
)

// MemoryPresentationQueue очередь в памяти процесса для локального запуска.
type MemoryPresentationQueue struct {
	jobs chan domain.PresentationJob
}

var _ domain.PresentationQueue = (*MemoryPresentationQueue)(nil)

// NewMemoryPresentationQueue создаёт очередь с буфером size.
func NewMemoryPresentationQueue(size int) *MemoryPresentationQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryPresentationQueue{jobs: make(chan domain.PresentationJob, size)}
}

// Enqueue добавляет задачу.
func (q *MemoryPresentationQueue) Enqueue(ctx context.Context, job domain.PresentationJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт следующую задачу. ack(false) возвращает задачу в конец очереди.
func (q *MemoryPresentationQueue) Receive(ctx context.Context) (domain.PresentationJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.PresentationJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		return job, func(success bool) error {
			if success {
				return nil
			}
			go func() { q.jobs <- job }()
			return nil
		}, nil
	}
}
