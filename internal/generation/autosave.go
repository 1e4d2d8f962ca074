package generation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

// DefaultAutosaveDelay пауза после последней правки перед сохранением.
const DefaultAutosaveDelay = 1500 * time.Millisecond

// SaveFunc сохраняет правки черновика.
type SaveFunc func(ctx context.Context, draftID string, patch domain.DraftPatch) error

// Autosaver откладывает сохранение правок, пока пользователь продолжает редактировать.
type Autosaver struct {
	save  SaveFunc
	delay time.Duration
	log   zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	draftID string
	pending *domain.DraftPatch
	saving  sync.Mutex
}

// NewAutosaver создаёт автосохранение. delay <= 0 заменяется DefaultAutosaveDelay.
func NewAutosaver(save SaveFunc, delay time.Duration, logger zerolog.Logger) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Autosaver{save: save, delay: delay, log: logger}
}

// Schedule запоминает правку и перезапускает таймер. Правки одного черновика сливаются,
// переключение на другой черновик сначала сохраняет накопленное.
func (a *Autosaver) Schedule(draftID string, patch domain.DraftPatch) {
	a.mu.Lock()
	if a.pending != nil && a.draftID != draftID {
		a.mu.Unlock()
		a.Flush(context.Background())
		a.mu.Lock()
	}
	if a.pending == nil {
		a.pending = &domain.DraftPatch{}
	}
	if patch.Title != nil {
		a.pending.Title = patch.Title
	}
	if patch.Outline != nil {
		a.pending.Outline = patch.Outline
	}
	a.draftID = draftID
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() { a.Flush(context.Background()) })
	a.mu.Unlock()
}

// Pending сообщает, есть ли несохранённые правки.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// Flush немедленно сохраняет накопленные правки.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.saving.Lock()
	defer a.saving.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	patch, draftID := a.pending, a.draftID
	a.pending = nil
	a.mu.Unlock()

	if patch == nil || draftID == "" {
		return nil
	}
	if err := a.save(ctx, draftID, *patch); err != nil {
		a.log.Error().Err(err).Str("draft_id", draftID).Msg("autosave: не удалось сохранить черновик")
		return err
	}
	a.log.Debug().Str("draft_id", draftID).Msg("autosave: черновик сохранён")
	return nil
}
