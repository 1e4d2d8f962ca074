package drafts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dossier-ai/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CreateInput поля нового черновика.
type CreateInput struct {
	Title          string               `json:"title"`
	Prompt         string               `json:"prompt"`
	EnhancedPrompt string               `json:"enhanced_prompt,omitempty"`
	Outline        domain.Outline       `json:"outline"`
	Research       *domain.ResearchData `json:"research,omitempty"`
}

// Service реализует операции с черновиками.
type Service struct {
	repo  domain.DraftRepo
	newID func() string
}

// NewService создаёт сервис черновиков.
func NewService(repo domain.DraftRepo) *Service {
	return &Service{repo: repo, newID: uuid.NewString}
}

// Create сохраняет черновик под новым идентификатором.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Draft, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSpace(in.Outline.Title)
	}
	if title == "" {
		return domain.Draft{}, fmt.Errorf("%w: title обязателен", domain.ErrValidation)
	}
	if len(in.Outline.Slides) == 0 {
		return domain.Draft{}, fmt.Errorf("%w: outline.slides обязателен", domain.ErrValidation)
	}
	draft := domain.Draft{
		ID:             s.newID(),
		Title:          title,
		Prompt:         strings.TrimSpace(in.Prompt),
		EnhancedPrompt: strings.TrimSpace(in.EnhancedPrompt),
		Outline:        NormalizeOutline(in.Outline),
		Research:       in.Research,
	}
	saved, err := s.repo.CreateDraft(ctx, draft)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("сохранение черновика: %w", err)
	}
	return saved, nil
}

// Get возвращает черновик.
func (s *Service) Get(ctx context.Context, id string) (domain.Draft, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Draft{}, fmt.Errorf("%w: id обязателен", domain.ErrValidation)
	}
	return s.repo.GetDraft(ctx, id)
}

// List возвращает последние изменённые черновики.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Draft, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.repo.ListDrafts(ctx, limit)
}

// Update применяет правку заголовка и/или плана.
func (s *Service) Update(ctx context.Context, id string, patch domain.DraftPatch) (domain.Draft, error) {
	if patch.Title == nil && patch.Outline == nil {
		return domain.Draft{}, fmt.Errorf("%w: нет полей для обновления", domain.ErrValidation)
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Draft{}, fmt.Errorf("%w: title не может быть пустым", domain.ErrValidation)
		}
		patch.Title = &title
	}
	if patch.Outline != nil {
		if len(patch.Outline.Slides) == 0 {
			return domain.Draft{}, fmt.Errorf("%w: outline.slides не может быть пустым", domain.ErrValidation)
		}
		normalized := NormalizeOutline(*patch.Outline)
		patch.Outline = &normalized
	}
	return s.repo.UpdateDraft(ctx, id, patch)
}

// Delete удаляет черновик.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteDraft(ctx, id)
}

// NormalizeOutline пересчитывает индексы по позиции, приводит типы и обрезает план до максимума.
func NormalizeOutline(o domain.Outline) domain.Outline {
	slides := o.Slides
	if len(slides) > domain.MaxOutlineSlides {
		slides = slides[:domain.MaxOutlineSlides]
	}
	out := domain.Outline{Title: strings.TrimSpace(o.Title), Slides: make([]domain.OutlineSlide, len(slides))}
	for i, sl := range slides {
		sl.Index = i
		sl.Type = domain.NormalizeSlideType(strings.ToLower(string(sl.Type)))
		if sl.Bullets == nil {
			sl.Bullets = []string{}
		}
		out.Slides[i] = sl
	}
	return out
}
