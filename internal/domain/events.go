package domain

// EventType тип события потока генерации плана.
type EventType string

const (
	EventPreprocessing    EventType = "preprocessing"
	EventResearchQuery    EventType = "research_query"
	EventResearchSource   EventType = "research_source"
	EventResearchComplete EventType = "research_complete"
	EventContentChunk     EventType = "content_chunk"
	EventSlideComplete    EventType = "slide_complete"
	EventDraftCreated     EventType = "draft_created"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	// EventStatus используется потоком статуса презентации.
	EventStatus EventType = "status"
)

const (
	// StageStart начало этапа.
	StageStart = "start"
	// StageComplete завершение этапа.
	StageComplete = "complete"
)

// Event одно событие SSE. Набор заполненных полей зависит от Type.
type Event struct {
	Type           EventType     `json:"type"`
	Status         string        `json:"status,omitempty"`
	OriginalPrompt string        `json:"original_prompt,omitempty"`
	EnhancedPrompt string        `json:"enhanced_prompt,omitempty"`
	Query          string        `json:"query,omitempty"`
	Source         *Source       `json:"source,omitempty"`
	Research       *ResearchData `json:"research,omitempty"`
	Content        string        `json:"content,omitempty"`
	Slide          *OutlineSlide `json:"slide,omitempty"`
	DraftID        string        `json:"draft_id,omitempty"`
	Outline        *Outline      `json:"outline,omitempty"`
	TokenUsage     *TokenUsage   `json:"token_usage,omitempty"`
	Presentation   *Presentation `json:"presentation,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// Terminal сообщает, что после события поток не обрабатывается.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
