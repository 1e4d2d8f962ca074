package outline

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
)

const (
	modeBlocking = "blocking"
	modeStream   = "stream"
)

// Input запрос на построение плана. Если EnhancedPrompt пуст, запрос уточняется из OriginalPrompt.
type Input struct {
	EnhancedPrompt string `json:"enhanced_prompt"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
	UserID         string `json:"-"`
}

// Result итог построения плана.
type Result struct {
	DraftID    string              `json:"draft_id,omitempty"`
	Title      string              `json:"title"`
	Outline    domain.Outline      `json:"outline"`
	Research   domain.ResearchData `json:"research"`
	TokenUsage domain.TokenUsage   `json:"token_usage"`
}

// PartialError исследование выполнено, но план построить не удалось.
type PartialError struct {
	Research domain.ResearchData
	Err      error
}

func (e *PartialError) Error() string { return e.Err.Error() }

func (e *PartialError) Unwrap() error { return e.Err }

// Service собирает конвейер: уточнение запроса, исследование, план, сохранение черновика.
type Service struct {
	enhancer  domain.PromptEnhancer
	research  domain.Researcher
	outlines  domain.OutlineGenerator
	drafts    domain.DraftRepo
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	newID     func() string
}

// NewService создаёт сервис построения плана. enhancer и analytics могут быть nil.
func NewService(enhancer domain.PromptEnhancer, research domain.Researcher, outlines domain.OutlineGenerator, drafts domain.DraftRepo, analytics domain.BusinessMetricRepo, logger zerolog.Logger) *Service {
	return &Service{
		enhancer:  enhancer,
		research:  research,
		outlines:  outlines,
		drafts:    drafts,
		analytics: analytics,
		log:       logger,
		newID:     uuid.NewString,
	}
}

// Validate проверяет запрос до начала генерации.
func (in Input) Validate() error {
	prompt := strings.TrimSpace(in.EnhancedPrompt)
	if prompt == "" {
		prompt = strings.TrimSpace(in.OriginalPrompt)
	}
	if prompt == "" {
		return fmt.Errorf("%w: enhanced_prompt обязателен", domain.ErrValidation)
	}
	if len([]rune(prompt)) < domain.MinPromptLength {
		return fmt.Errorf("%w: запрос короче %d символов", domain.ErrValidation, domain.MinPromptLength)
	}
	return nil
}

// Generate строит план без потоковой передачи. Если исследование прошло, а план нет,
// возвращается *PartialError с данными исследования.
func (s *Service) Generate(ctx context.Context, in Input) (res Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOutline(modeBlocking, start, err) }()

	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	original, enhanced, usage := s.prepare(ctx, in)

	research, researchUsage, err := s.research.ConductResearch(ctx, enhanced, domain.ResearchHooks{})
	if err != nil {
		return Result{}, fmt.Errorf("исследование: %w", err)
	}
	usage = usage.Add(researchUsage)

	outline, outlineUsage, err := s.outlines.Generate(ctx, enhanced, research)
	usage = usage.Add(outlineUsage)
	if err != nil {
		return Result{}, &PartialError{Research: research, Err: fmt.Errorf("построение плана: %w", err)}
	}

	draftID := s.saveDraft(ctx, original, enhanced, outline, research)
	s.record(ctx, in.UserID, modeBlocking, outline, draftID, usage)
	return Result{
		DraftID:    draftID,
		Title:      outline.Title,
		Outline:    outline,
		Research:   research,
		TokenUsage: usage,
	}, nil
}

// GenerateStream строит план и передаёт ход работы событиями. Поток всегда завершается
// событием complete или error, если emit ещё работает.
func (s *Service) GenerateStream(ctx context.Context, in Input, emit func(domain.Event) error) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOutline(modeStream, start, err) }()

	out := &emitter{send: emit}
	defer func() {
		if err != nil && !out.broken() {
			_ = out.event(domain.Event{Type: domain.EventError, Message: err.Error()})
		}
	}()

	if err := in.Validate(); err != nil {
		return err
	}

	if err := out.event(domain.Event{Type: domain.EventPreprocessing, Status: domain.StageStart, OriginalPrompt: originalOf(in)}); err != nil {
		return err
	}
	original, enhanced, usage := s.prepare(ctx, in)
	if err := out.event(domain.Event{Type: domain.EventPreprocessing, Status: domain.StageComplete, OriginalPrompt: original, EnhancedPrompt: enhanced}); err != nil {
		return err
	}

	research, researchUsage, err := s.research.ConductResearch(ctx, enhanced, domain.ResearchHooks{
		OnQuery: func(query string) {
			_ = out.event(domain.Event{Type: domain.EventResearchQuery, Query: query})
		},
		OnSource: func(src domain.Source) {
			_ = out.event(domain.Event{Type: domain.EventResearchSource, Source: &src})
		},
	})
	if out.broken() {
		return out.err
	}
	if err != nil {
		return fmt.Errorf("исследование: %w", err)
	}
	usage = usage.Add(researchUsage)
	if err := out.event(domain.Event{Type: domain.EventResearchComplete, Research: &research}); err != nil {
		return err
	}

	outline, outlineUsage, err := s.outlines.GenerateStream(ctx, enhanced, research,
		func(chunk string) {
			_ = out.event(domain.Event{Type: domain.EventContentChunk, Content: chunk})
		},
		func(slide domain.OutlineSlide) {
			_ = out.event(domain.Event{Type: domain.EventSlideComplete, Slide: &slide})
		},
	)
	if out.broken() {
		return out.err
	}
	usage = usage.Add(outlineUsage)
	if err != nil {
		return fmt.Errorf("построение плана: %w", err)
	}

	draftID := s.saveDraft(ctx, original, enhanced, outline, research)
	if draftID != "" {
		if err := out.event(domain.Event{Type: domain.EventDraftCreated, DraftID: draftID}); err != nil {
			return err
		}
	}
	s.record(ctx, in.UserID, modeStream, outline, draftID, usage)
	return out.event(domain.Event{Type: domain.EventComplete, Outline: &outline, DraftID: draftID, TokenUsage: &usage})
}

func originalOf(in Input) string {
	if original := strings.TrimSpace(in.OriginalPrompt); original != "" {
		return original
	}
	return strings.TrimSpace(in.EnhancedPrompt)
}

// prepare возвращает исходный и уточнённый запрос. Ошибка уточнения не прерывает конвейер.
func (s *Service) prepare(ctx context.Context, in Input) (string, string, domain.TokenUsage) {
	original := originalOf(in)
	if enhanced := strings.TrimSpace(in.EnhancedPrompt); enhanced != "" {
		return original, enhanced, domain.TokenUsage{}
	}
	if s.enhancer == nil {
		return original, original, domain.TokenUsage{}
	}
	enhanced, usage, err := s.enhancer.Enhance(ctx, original)
	if err != nil {
		s.log.Warn().Err(err).Msg("outline: не удалось уточнить запрос, используем исходный")
		return original, original, usage
	}
	return original, enhanced, usage
}

// saveDraft сохраняет черновик. Ошибка только логируется: сгенерированный план важнее.
func (s *Service) saveDraft(ctx context.Context, original, enhanced string, outline domain.Outline, research domain.ResearchData) string {
	if s.drafts == nil {
		return ""
	}
	researchCopy := research
	draft := domain.Draft{
		ID:             s.newID(),
		Title:          outline.Title,
		Prompt:         original,
		EnhancedPrompt: enhanced,
		Outline:        outline,
		Research:       &researchCopy,
	}
	saved, err := s.drafts.CreateDraft(ctx, draft)
	if err != nil {
		s.log.Error().Err(err).Msg("outline: не удалось сохранить черновик")
		return ""
	}
	return saved.ID
}

func (s *Service) record(ctx context.Context, userID, mode string, outline domain.Outline, draftID string, usage domain.TokenUsage) {
	if s.analytics == nil {
		return
	}
	metric := domain.BusinessMetric{
		Event:  domain.BusinessMetricEventOutlineGenerated,
		UserID: userID,
		Metadata: map[string]any{
			"mode":         mode,
			"slides":       len(outline.Slides),
			"draft_saved":  draftID != "",
			"total_tokens": usage.TotalTokens,
		},
	}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Msg("outline: не удалось записать бизнес-метрику")
	}
}

// emitter запоминает первую ошибку отправки, после неё события не отправляются.
type emitter struct {
	send func(domain.Event) error
	err  error
}

func (e *emitter) event(ev domain.Event) error {
	if e.err != nil {
		return e.err
	}
	if err := e.send(ev); err != nil {
		e.err = fmt.Errorf("отправка события %s: %w", ev.Type, err)
	}
	return e.err
}

func (e *emitter) broken() bool { return e.err != nil }

// IsPartial сообщает, что ошибка содержит результат исследования.
func IsPartial(err error) (*PartialError, bool) {
	var partial *PartialError
	if errors.As(err, &partial) {
		return partial, true
	}
	return nil, false
}
