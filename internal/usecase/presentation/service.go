package presentation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
	"dossier-ai/internal/usecase/drafts"
)

// ErrStillGenerating слайды нельзя править, пока генерация не завершена.
var ErrStillGenerating = errors.New("presentation is still generating")

const (
	defaultTheme        = "default"
	defaultMaxAttempts  = 3
	defaultPollInterval = 5 * time.Second
	maxErrorMessage     = 500
)

// Config параметры генерации презентаций.
type Config struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// UserEnsurer гарантирует наличие пользователя перед созданием презентации.
type UserEnsurer interface {
	Ensure(ctx context.Context, id, email string) (domain.User, bool, error)
}

// StartRequest запрос на генерацию презентации по принятому плану.
type StartRequest struct {
	DraftID       string               `json:"draft_id"`
	Outline       domain.Outline       `json:"outline"`
	CitationStyle domain.CitationStyle `json:"citation_style"`
	Theme         string               `json:"theme"`
	UserID        string               `json:"user_id"`
	Email         string               `json:"-"`
}

// Service управляет жизненным циклом презентаций.
type Service struct {
	presentations domain.PresentationRepo
	drafts        domain.DraftRepo
	users         UserEnsurer
	queue         domain.PresentationQueue
	generator     domain.SlideGenerator
	notifier      domain.StatusNotifier
	analytics     domain.BusinessMetricRepo
	log           zerolog.Logger
	cfg           Config
	newID         func() string
	now           func() time.Time
}

// Deps зависимости сервиса. Notifier и Analytics могут быть nil.
type Deps struct {
	Presentations domain.PresentationRepo
	Drafts        domain.DraftRepo
	Users         UserEnsurer
	Queue         domain.PresentationQueue
	Generator     domain.SlideGenerator
	Notifier      domain.StatusNotifier
	Analytics     domain.BusinessMetricRepo
}

// NewService создаёт сервис презентаций.
func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Service{
		presentations: deps.Presentations,
		drafts:        deps.Drafts,
		users:         deps.Users,
		queue:         deps.Queue,
		generator:     deps.Generator,
		notifier:      deps.Notifier,
		analytics:     deps.Analytics,
		log:           logger,
		cfg:           cfg,
		newID:         uuid.NewString,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MaxAttempts предел попыток обработки одной задачи.
func (s *Service) MaxAttempts() int { return s.cfg.MaxAttempts }

func (r StartRequest) normalize() (StartRequest, error) {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return r, fmt.Errorf("%w: user_id обязателен", domain.ErrValidation)
	}
	if strings.TrimSpace(r.Outline.Title) == "" {
		return r, fmt.Errorf("%w: outline.title обязателен", domain.ErrValidation)
	}
	if len(r.Outline.Slides) == 0 {
		return r, fmt.Errorf("%w: outline.slides обязателен", domain.ErrValidation)
	}
	r.Outline = drafts.NormalizeOutline(r.Outline)

	r.CitationStyle = domain.CitationStyle(strings.ToLower(strings.TrimSpace(string(r.CitationStyle))))
	if r.CitationStyle == "" {
		r.CitationStyle = domain.CitationAPA
	}
	if !r.CitationStyle.Valid() {
		return r, fmt.Errorf("%w: неизвестный citation_style %q", domain.ErrValidation, r.CitationStyle)
	}
	r.Theme = strings.TrimSpace(r.Theme)
	if r.Theme == "" {
		r.Theme = defaultTheme
	}
	r.DraftID = strings.TrimSpace(r.DraftID)
	return r, nil
}

// Start создаёт презентацию в статусе generating и ставит задачу генерации в очередь.
func (s *Service) Start(ctx context.Context, req StartRequest) (domain.Presentation, error) {
	req, err := req.normalize()
	if err != nil {
		return domain.Presentation{}, err
	}
	if req.DraftID != "" && s.drafts != nil {
		if _, err := s.drafts.GetDraft(ctx, req.DraftID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Presentation{}, fmt.Errorf("%w: черновик %s не найден", domain.ErrValidation, req.DraftID)
			}
			return domain.Presentation{}, fmt.Errorf("получение черновика: %w", err)
		}
	}
	if s.users != nil {
		if _, _, err := s.users.Ensure(ctx, req.UserID, req.Email); err != nil {
			return domain.Presentation{}, fmt.Errorf("пользователь: %w", err)
		}
	}

	p, err := s.presentations.CreatePresentation(ctx, domain.Presentation{
		ID:            s.newID(),
		UserID:        req.UserID,
		DraftID:       req.DraftID,
		Title:         req.Outline.Title,
		Outline:       req.Outline,
		Slides:        []domain.Slide{},
		CitationStyle: req.CitationStyle,
		Theme:         req.Theme,
		Status:        domain.PresentationGenerating,
		JobID:         s.newID(),
	})
	if err != nil {
		return domain.Presentation{}, fmt.Errorf("создание презентации: %w", err)
	}

	job := domain.PresentationJob{
		ID:             p.JobID,
		PresentationID: p.ID,
		DraftID:        p.DraftID,
		UserID:         p.UserID,
		RequestedAt:    s.now(),
		Cause:          domain.JobCauseRequested,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if failErr := s.presentations.FailPresentation(ctx, p.ID, "не удалось поставить задачу в очередь"); failErr != nil {
			s.log.Error().Err(failErr).Str("presentation_id", p.ID).Msg("presentation: не удалось пометить презентацию ошибочной")
		}
		return domain.Presentation{}, fmt.Errorf("постановка задачи: %w", err)
	}

	s.recordMetric(ctx, domain.BusinessMetricEventPresentationRequested, p.UserID, map[string]any{
		"presentation_id": p.ID,
		"slides":          len(p.Outline.Slides),
		"citation_style":  string(p.CitationStyle),
	})
	s.log.Info().Str("presentation_id", p.ID).Str("job_id", p.JobID).Msg("presentation: генерация поставлена в очередь")
	return p, nil
}

// Get возвращает презентацию владельца.
func (s *Service) Get(ctx context.Context, userID, id string) (domain.Presentation, error) {
	p, err := s.presentations.GetPresentation(ctx, id)
	if err != nil {
		return domain.Presentation{}, err
	}
	if p.UserID != userID {
		return domain.Presentation{}, domain.ErrForbidden
	}
	return p, nil
}

// UpdateSlides заменяет слайды после завершения генерации. Порядок задаётся позицией в списке.
func (s *Service) UpdateSlides(ctx context.Context, userID, id string, slides []domain.Slide) (domain.Presentation, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.Presentation{}, err
	}
	if p.Status == domain.PresentationGenerating {
		return domain.Presentation{}, ErrStillGenerating
	}
	normalized := make([]domain.Slide, len(slides))
	for i, sl := range slides {
		sl.Index = i
		sl.Type = domain.NormalizeSlideType(strings.ToLower(string(sl.Type)))
		if sl.Bullets == nil {
			sl.Bullets = []string{}
		}
		normalized[i] = sl
	}
	return s.presentations.UpdateSlides(ctx, id, normalized)
}

// Delete удаляет презентацию владельца.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.presentations.DeletePresentation(ctx, id)
}

// WatchStatus отправляет текущее состояние презентации и каждое его изменение, пока статус
// не станет финальным или не отменится ctx. Уведомления ускоряют реакцию, опрос страхует от их потери.
func (s *Service) WatchStatus(ctx context.Context, id string, emit func(domain.Presentation) error) error {
	var updates <-chan domain.PresentationStatus
	if s.notifier != nil {
		ch, unsubscribe, err := s.notifier.Subscribe(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("presentation_id", id).Msg("presentation: подписка недоступна, работаем опросом")
		} else {
			updates = ch
			defer unsubscribe()
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var last domain.Presentation
	first := true
	for {
		p, err := s.presentations.GetPresentation(ctx, id)
		if err != nil {
			return err
		}
		if first || p.Status != last.Status || !p.UpdatedAt.Equal(last.UpdatedAt) {
			if err := emit(p); err != nil {
				return err
			}
			first = false
			last = p
		}
		if p.Status.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-updates:
			if !ok {
				updates = nil
			}
		}
	}
}

func (s *Service) notify(ctx context.Context, id string, status domain.PresentationStatus) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, id, status); err != nil {
		s.log.Warn().Err(err).Str("presentation_id", id).Msg("presentation: не удалось отправить уведомление о статусе")
	}
}

func (s *Service) recordMetric(ctx context.Context, event, userID string, metadata map[string]any) {
	if s.analytics == nil {
		return
	}
	metric := domain.BusinessMetric{Event: event, UserID: userID, Metadata: metadata}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("presentation: не удалось записать бизнес-метрику")
	}
}

func observeJob(outcome string, start time.Time) {
	metrics.ObservePresentationJob(outcome, start)
}

func clipMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxErrorMessage {
		return msg
	}
	return string(runes[:maxErrorMessage])
}
