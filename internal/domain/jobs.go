package domain

import (
	"context"
	"time"
)

// PresentationJobCause описывает источник задачи генерации.
type PresentationJobCause string

const (
	// JobCauseRequested означает, что пользователь запросил генерацию.
	JobCauseRequested PresentationJobCause = "requested"
	// JobCauseRecovered означает, что задача восстановлена после зависания.
	JobCauseRecovered PresentationJobCause = "recovered"
)

// PresentationJob содержит информацию о задаче генерации слайдов.
type PresentationJob struct {
	ID             string               `json:"job_id"`
	PresentationID string               `json:"presentation_id"`
	DraftID        string               `json:"draft_id,omitempty"`
	UserID         string               `json:"user_id"`
	RequestedAt    time.Time            `json:"requested_at"`
	Cause          PresentationJobCause `json:"cause"`
}

// PresentationQueue описывает очередь задач генерации презентаций.
type PresentationQueue interface {
	Enqueue(ctx context.Context, job PresentationJob) error
	Receive(ctx context.Context) (PresentationJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// JobStatusRepo отвечает за отслеживание попыток обработки задач.
type JobStatusRepo interface {
	// EnsureJob регистрирует попытку обработки и возвращает признак завершения
	// и номер текущей попытки.
	EnsureJob(ctx context.Context, jobID string) (done bool, attempt int, err error)
	// MarkJobDone помечает задачу как окончательно обработанную.
	MarkJobDone(ctx context.Context, jobID string) error
	// JobAttempts возвращает число попыток без регистрации новой.
	JobAttempts(ctx context.Context, jobID string) (int, error)
}
