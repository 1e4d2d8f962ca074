package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует регистрацию нового пользователя.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventOutlineGenerated фиксирует построение плана.
	BusinessMetricEventOutlineGenerated = "outline_generated"
	// BusinessMetricEventPresentationRequested фиксирует постановку генерации в очередь.
	BusinessMetricEventPresentationRequested = "presentation_requested"
	// BusinessMetricEventPresentationCompleted фиксирует успешную генерацию презентации.
	BusinessMetricEventPresentationCompleted = "presentation_completed"
	// BusinessMetricEventPresentationFailed фиксирует ошибку генерации.
	BusinessMetricEventPresentationFailed = "presentation_failed"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
