package domain

import "time"

// MinPromptLength минимальная длина пользовательского запроса.
const MinPromptLength = 10

// Source описывает источник, найденный поиском.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Date    string `json:"date,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// ResearchFinding содержит факт или статистику из исследования.
type ResearchFinding struct {
	Stat    string `json:"stat"`
	Context string `json:"context"`
	Source  Source `json:"source"`
}

// Framework описывает подход или модель, пригодную для презентации.
type Framework struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Source      *Source `json:"source,omitempty"`
}

// ResearchData итог этапа исследования.
type ResearchData struct {
	Queries    []string          `json:"queries"`
	Findings   []ResearchFinding `json:"findings"`
	Frameworks []Framework       `json:"frameworks"`
	Sources    []Source          `json:"sources"`
}

// SlideType тип слайда.
type SlideType string

const (
	SlideTypeIntro      SlideType = "intro"
	SlideTypeContent    SlideType = "content"
	SlideTypeData       SlideType = "data"
	SlideTypeQuote      SlideType = "quote"
	SlideTypeConclusion SlideType = "conclusion"
)

// Valid сообщает, входит ли тип в допустимый набор.
func (t SlideType) Valid() bool {
	switch t {
	case SlideTypeIntro, SlideTypeContent, SlideTypeData, SlideTypeQuote, SlideTypeConclusion:
		return true
	}
	return false
}

// NormalizeSlideType приводит произвольное значение к допустимому типу.
func NormalizeSlideType(raw string) SlideType {
	t := SlideType(raw)
	if t.Valid() {
		return t
	}
	return SlideTypeContent
}

const (
	// MinOutlineSlides нижняя граница количества слайдов в плане.
	MinOutlineSlides = 5
	// MaxOutlineSlides верхняя граница; лишние слайды отбрасываются.
	MaxOutlineSlides = 20
)

// OutlineSlide заготовка слайда в плане презентации.
type OutlineSlide struct {
	Index   int       `json:"index"`
	Title   string    `json:"title"`
	Bullets []string  `json:"bullets"`
	Type    SlideType `json:"type"`
}

// Outline план презентации.
type Outline struct {
	Title  string         `json:"title"`
	Slides []OutlineSlide `json:"slides"`
}

// Slide полностью сгенерированный слайд.
type Slide struct {
	Index        int       `json:"index"`
	Title        string    `json:"title"`
	Bullets      []string  `json:"bullets"`
	Type         SlideType `json:"type"`
	Body         string    `json:"body"`
	SpeakerNotes string    `json:"speaker_notes"`
	Citations    []string  `json:"citations,omitempty"`
	VisualHint   string    `json:"visual_hint,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
}

// TokenUsage статистика использования токенов LLM.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add суммирует использование токенов.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Draft сохранённый план до генерации презентации.
type Draft struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Prompt         string        `json:"prompt"`
	EnhancedPrompt string        `json:"enhanced_prompt,omitempty"`
	Outline        Outline       `json:"outline"`
	Research       *ResearchData `json:"research,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DraftPatch частичное обновление черновика.
type DraftPatch struct {
	Title   *string  `json:"title,omitempty"`
	Outline *Outline `json:"outline,omitempty"`
}

// PresentationStatus статус генерации презентации.
type PresentationStatus string

const (
	PresentationGenerating PresentationStatus = "generating"
	PresentationCompleted  PresentationStatus = "completed"
	PresentationFailed     PresentationStatus = "failed"
)

// Terminal сообщает, что статус финальный.
func (s PresentationStatus) Terminal() bool {
	return s == PresentationCompleted || s == PresentationFailed
}

// CitationStyle стиль оформления ссылок.
type CitationStyle string

const (
	CitationAPA     CitationStyle = "apa"
	CitationMLA     CitationStyle = "mla"
	CitationChicago CitationStyle = "chicago"
)

// Valid сообщает, поддерживается ли стиль.
func (c CitationStyle) Valid() bool {
	switch c {
	case CitationAPA, CitationMLA, CitationChicago:
		return true
	}
	return false
}

// Presentation итоговая презентация.
type Presentation struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	DraftID       string             `json:"draft_id,omitempty"`
	Title         string             `json:"title"`
	Outline       Outline            `json:"outline"`
	Slides        []Slide            `json:"slides"`
	CitationStyle CitationStyle      `json:"citation_style"`
	Theme         string             `json:"theme"`
	Status        PresentationStatus `json:"status"`
	TokenUsage    TokenUsage         `json:"token_usage"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	JobID         string             `json:"job_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// User пользователь приложения.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
