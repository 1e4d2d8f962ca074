package generation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

func TestStoreLifecycle(t *testing.T) {
	var changes int
	store := NewStore(func(State) { changes++ })
	src := domain.Source{Title: "t", URL: "https://a.com"}
	slide := domain.OutlineSlide{Index: 0, Title: "Intro", Type: domain.SlideTypeIntro}
	outline := domain.Outline{Title: "Deck"}

	events := []domain.Event{
		{Type: domain.EventPreprocessing, Status: domain.StageStart},
		{Type: domain.EventPreprocessing, Status: domain.StageComplete, OriginalPrompt: "p", EnhancedPrompt: "better p"},
		{Type: domain.EventResearchQuery, Query: "q1"},
		{Type: domain.EventResearchSource, Source: &src},
		{Type: domain.EventResearchSource, Source: &src},
		{Type: domain.EventResearchComplete, Research: &domain.ResearchData{}},
		{Type: domain.EventContentChunk, Content: "{\"ti"},
		{Type: domain.EventContentChunk, Content: "tle\""},
	}
	for _, ev := range events {
		store.Apply(ev)
	}
	st := store.Snapshot()
	if st.Status != StatusGenerating {
		t.Fatalf("ожидали generating, получили %s", st.Status)
	}
	if st.EnhancedPrompt != "better p" || st.OriginalPrompt != "p" {
		t.Fatalf("пара запросов не сохранена: %+v", st)
	}
	if len(st.Sources) != 2 {
		t.Fatalf("дубликаты источников должны сохраняться, получили %d", len(st.Sources))
	}
	if st.Buffer != "{\"title\"" {
		t.Fatalf("неожиданный буфер %q", st.Buffer)
	}

	store.Apply(domain.Event{Type: domain.EventSlideComplete, Slide: &slide})
	st = store.Snapshot()
	if st.Buffer != "" || st.SlideIndex != 1 || len(st.Slides) != 1 {
		t.Fatalf("slide_complete должен очистить буфер и сдвинуть индекс: %+v", st)
	}

	store.Apply(domain.Event{Type: domain.EventDraftCreated, DraftID: "d1"})
	store.Apply(domain.Event{Type: domain.EventComplete, Outline: &outline, DraftID: "d1"})
	if applied := store.Apply(domain.Event{Type: domain.EventError, Message: "late"}); applied {
		t.Fatalf("после complete события не применяются")
	}
	st = store.Snapshot()
	if st.Status != StatusComplete || st.DraftID != "d1" || st.Outline.Title != "Deck" || st.Error != "" {
		t.Fatalf("неожиданное финальное состояние: %+v", st)
	}
	if changes != len(events)+3 {
		t.Fatalf("ожидали %d уведомлений, получили %d", len(events)+3, changes)
	}
}

func TestStoreCompleteReplacesStreamedSlides(t *testing.T) {
	store := NewStore(nil)
	streamed := domain.OutlineSlide{Index: 0, Title: "Draft intro", Type: domain.SlideTypeIntro}
	store.Apply(domain.Event{Type: domain.EventSlideComplete, Slide: &streamed})
	store.Apply(domain.Event{Type: domain.EventSlideComplete, Slide: &streamed})

	outline := domain.Outline{Title: "Deck", Slides: []domain.OutlineSlide{
		{Index: 0, Title: "Intro", Type: domain.SlideTypeIntro},
		{Index: 1, Title: "Market", Type: domain.SlideTypeContent},
		{Index: 2, Title: "Summary", Type: domain.SlideTypeConclusion},
	}}
	store.Apply(domain.Event{Type: domain.EventComplete, Outline: &outline})

	st := store.Snapshot()
	if st.SlideIndex != 3 || len(st.Slides) != 3 {
		t.Fatalf("слайды должны совпадать с итоговым планом: %+v", st)
	}
	for i, sl := range st.Slides {
		if sl.Title != outline.Slides[i].Title {
			t.Fatalf("слайд %d: ожидали %q, получили %q", i, outline.Slides[i].Title, sl.Title)
		}
	}
}

func TestStoreErrorIsTerminal(t *testing.T) {
	store := NewStore(nil)
	store.Apply(domain.Event{Type: domain.EventError, Message: "boom"})
	store.Apply(domain.Event{Type: domain.EventContentChunk, Content: "x"})
	st := store.Snapshot()
	if st.Status != StatusError || st.Error != "boom" || st.Buffer != "" {
		t.Fatalf("ошибка должна быть финальной: %+v", st)
	}
	store.Reset()
	if store.Snapshot().Status != StatusIdle {
		t.Fatalf("reset должен вернуть idle")
	}
}

func TestStoreIgnoresUnknownEvent(t *testing.T) {
	store := NewStore(nil)
	if store.Apply(domain.Event{Type: "mystery"}) {
		t.Fatalf("неизвестное событие не должно применяться")
	}
}

type recordingSaver struct {
	mu    sync.Mutex
	calls []domain.DraftPatch
	ids   []string
}

func (r *recordingSaver) save(_ context.Context, id string, patch domain.DraftPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, patch)
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestAutosaverDebounces(t *testing.T) {
	rec := &recordingSaver{}
	saver := NewAutosaver(rec.save, 40*time.Millisecond, zerolog.Nop())

	first, second := "first", "second"
	saver.Schedule("d1", domain.DraftPatch{Title: &first})
	saver.Schedule("d1", domain.DraftPatch{Title: &second})

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("ожидали одно сохранение, получили %d", rec.count())
	}
	if *rec.calls[0].Title != "second" {
		t.Fatalf("должна сохраниться последняя правка, получили %q", *rec.calls[0].Title)
	}
}

func TestAutosaverFlush(t *testing.T) {
	rec := &recordingSaver{}
	saver := NewAutosaver(rec.save, time.Hour, zerolog.Nop())

	title := "t"
	saver.Schedule("d1", domain.DraftPatch{Title: &title})
	if !saver.Pending() {
		t.Fatalf("ожидали несохранённые правки")
	}
	if err := saver.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rec.count() != 1 || saver.Pending() {
		t.Fatalf("flush должен сохранить правки сразу")
	}
	if err := saver.Flush(context.Background()); err != nil || rec.count() != 1 {
		t.Fatalf("пустой flush не должен сохранять")
	}
}

func TestAutosaverSwitchDraftSavesPrevious(t *testing.T) {
	rec := &recordingSaver{}
	saver := NewAutosaver(rec.save, time.Hour, zerolog.Nop())

	a, b := "a", "b"
	saver.Schedule("d1", domain.DraftPatch{Title: &a})
	saver.Schedule("d2", domain.DraftPatch{Title: &b})
	if rec.count() != 1 || rec.ids[0] != "d1" {
		t.Fatalf("смена черновика должна сохранить предыдущий: %v", rec.ids)
	}
	_ = saver.Flush(context.Background())
	if rec.count() != 2 || rec.ids[1] != "d2" {
		t.Fatalf("неожиданные сохранения: %v", rec.ids)
	}
}
