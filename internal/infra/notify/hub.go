package notify

import (
	"context"
	"sync"

	"dossier-ai/internal/domain"
)

// Hub рассылает статусы внутри одного процесса.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan domain.PresentationStatus
}

var _ domain.StatusNotifier = (*Hub)(nil)

// NewHub создаёт пустой хаб.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan domain.PresentationStatus)}
}

// Publish не блокируется: медленный подписчик пропускает статус и догонит его опросом.
func (h *Hub) Publish(_ context.Context, presentationID string, status domain.PresentationStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[presentationID] {
		select {
		case ch <- status:
		default:
		}
	}
	return nil
}

// Subscribe регистрирует подписчика.
func (h *Hub) Subscribe(_ context.Context, presentationID string) (<-chan domain.PresentationStatus, func(), error) {
	ch := make(chan domain.PresentationStatus, 4)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[presentationID] == nil {
		h.subs[presentationID] = make(map[int]chan domain.PresentationStatus)
	}
	h.subs[presentationID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[presentationID], id)
			if len(h.subs[presentationID]) == 0 {
				delete(h.subs, presentationID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}
