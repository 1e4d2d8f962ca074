// Package generation держит клиентское состояние генерации плана и автосохранение правок.
package generation

import (
	"sync"

	"dossier-ai/internal/domain"
)

// Status этап генерации на стороне клиента.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusPreprocessing Status = "preprocessing"
	StatusResearching   Status = "researching"
	StatusGenerating    Status = "generating"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Terminal сообщает, что состояние больше не меняется.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// State снимок состояния генерации.
type State struct {
	Status         Status
	OriginalPrompt string
	EnhancedPrompt string
	Queries        []string
	// Sources дубликаты от сервера не отфильтровываются.
	Sources    []domain.Source
	Research   *domain.ResearchData
	Buffer     string
	Slides     []domain.OutlineSlide
	SlideIndex int
	DraftID    string
	Outline    *domain.Outline
	TokenUsage *domain.TokenUsage
	Error      string
}

// Store применяет события потока в порядке получения.
type Store struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewStore создаёт хранилище в состоянии idle. onChange вызывается после каждого применённого события.
func NewStore(onChange func(State)) *Store {
	return &Store{state: State{Status: StatusIdle}, onChange: onChange}
}

// Apply применяет событие. Возвращает false, если событие проигнорировано.
func (s *Store) Apply(ev domain.Event) bool {
	s.mu.Lock()
	if s.state.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	applied := reduce(&s.state, ev)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if applied && s.onChange != nil {
		s.onChange(snapshot)
	}
	return applied
}

// Snapshot возвращает копию текущего состояния.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Reset возвращает хранилище в idle перед новой генерацией.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{Status: StatusIdle}
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	st.Queries = append([]string(nil), s.state.Queries...)
	st.Sources = append([]domain.Source(nil), s.state.Sources...)
	st.Slides = append([]domain.OutlineSlide(nil), s.state.Slides...)
	return st
}

func reduce(st *State, ev domain.Event) bool {
	switch ev.Type {
	case domain.EventPreprocessing:
		st.Status = StatusPreprocessing
		if ev.Status == domain.StageComplete {
			st.OriginalPrompt = ev.OriginalPrompt
			st.EnhancedPrompt = ev.EnhancedPrompt
		}
	case domain.EventResearchQuery:
		st.Status = StatusResearching
		st.Queries = append(st.Queries, ev.Query)
	case domain.EventResearchSource:
		st.Status = StatusResearching
		if ev.Source != nil {
			st.Sources = append(st.Sources, *ev.Source)
		}
	case domain.EventResearchComplete:
		st.Status = StatusGenerating
		st.Research = ev.Research
	case domain.EventContentChunk:
		st.Status = StatusGenerating
		st.Buffer += ev.Content
	case domain.EventSlideComplete:
		st.Status = StatusGenerating
		if ev.Slide != nil {
			st.Slides = append(st.Slides, *ev.Slide)
		}
		st.SlideIndex++
		st.Buffer = ""
	case domain.EventDraftCreated:
		st.DraftID = ev.DraftID
	case domain.EventComplete:
		st.Status = StatusComplete
		st.Outline = ev.Outline
		// после повторной попытки на сервере итоговые слайды могут отличаться от потоковых
		if ev.Outline != nil {
			st.Slides = append([]domain.OutlineSlide(nil), ev.Outline.Slides...)
			st.SlideIndex = len(ev.Outline.Slides)
		}
		st.TokenUsage = ev.TokenUsage
		if ev.DraftID != "" {
			st.DraftID = ev.DraftID
		}
		st.Buffer = ""
	case domain.EventError:
		st.Status = StatusError
		st.Error = ev.Message
	default:
		return false
	}
	return true
}
