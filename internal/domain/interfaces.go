package domain

import (
	"context"
	"time"
)

// LLMOptions параметры вызова модели. Нулевые значения заменяются значениями по умолчанию.
type LLMOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	Retries     *int
	// JSON просит провайдера вернуть ровно один объект JSON, если он это умеет.
	JSON bool
}

// LLMResult ответ модели.
type LLMResult struct {
	Content string
	Usage   TokenUsage
}

// LLM генерирует текст, целиком или потоком.
type LLM interface {
	Generate(ctx context.Context, system, user string, opts LLMOptions) (LLMResult, error)
	Stream(ctx context.Context, system, user string, opts LLMOptions, onChunk func(string) error) (LLMResult, error)
}

// Searcher ищет источники. Ошибки поглощаются: при сбое возвращается пустой список.
type Searcher interface {
	Search(ctx context.Context, query string, count int) []Source
}

// ResearchHooks получает уведомления о ходе исследования.
type ResearchHooks struct {
	OnQuery  func(query string)
	OnSource func(source Source)
}

// Researcher собирает данные исследования по запросу.
type Researcher interface {
	ConductResearch(ctx context.Context, enhancedPrompt string, hooks ResearchHooks) (ResearchData, TokenUsage, error)
}

// OutlineGenerator строит план презентации.
type OutlineGenerator interface {
	Generate(ctx context.Context, enhancedPrompt string, research ResearchData) (Outline, TokenUsage, error)
	GenerateStream(ctx context.Context, enhancedPrompt string, research ResearchData, onChunk func(string), onSlide func(OutlineSlide)) (Outline, TokenUsage, error)
}

// PromptEnhancer уточняет пользовательский запрос.
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string) (string, TokenUsage, error)
}

// SlideGenerator генерирует тела слайдов по плану.
type SlideGenerator interface {
	GenerateSlides(ctx context.Context, outline Outline, research *ResearchData, style CitationStyle) ([]Slide, TokenUsage, error)
}

// DraftRepo хранит черновики.
type DraftRepo interface {
	CreateDraft(ctx context.Context, draft Draft) (Draft, error)
	GetDraft(ctx context.Context, id string) (Draft, error)
	ListDrafts(ctx context.Context, limit int) ([]Draft, error)
	UpdateDraft(ctx context.Context, id string, patch DraftPatch) (Draft, error)
	DeleteDraft(ctx context.Context, id string) error
}

// PresentationRepo хранит презентации.
type PresentationRepo interface {
	CreatePresentation(ctx context.Context, p Presentation) (Presentation, error)
	GetPresentation(ctx context.Context, id string) (Presentation, error)
	// CompletePresentation и FailPresentation переводят презентацию из generating
	// в финальный статус и возвращают ErrNotGenerating, если статус уже финальный.
	CompletePresentation(ctx context.Context, id string, slides []Slide, usage TokenUsage) error
	FailPresentation(ctx context.Context, id, message string) error
	ReassignJob(ctx context.Context, id, jobID string) error
	UpdateSlides(ctx context.Context, id string, slides []Slide) (Presentation, error)
	DeletePresentation(ctx context.Context, id string) error
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]Presentation, error)
}

// UserRepo хранит пользователей.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (User, error)
	// InsertUser возвращает ErrAlreadyExists при конфликте по id.
	InsertUser(ctx context.Context, user User) (User, error)
}

// StatusNotifier рассылает изменения статуса презентаций открытым соединениям.
type StatusNotifier interface {
	Publish(ctx context.Context, presentationID string, status PresentationStatus) error
	Subscribe(ctx context.Context, presentationID string) (<-chan PresentationStatus, func(), error)
}

// Temperature возвращает указатель для LLMOptions.Temperature.
func Temperature(v float64) *float64 { return &v }

// Retries возвращает указатель для LLMOptions.Retries.
func Retries(n int) *int { return &n }
