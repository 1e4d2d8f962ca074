package presentation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/adapters/repo"
	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/notify"
	"dossier-ai/internal/infra/queue"
	"dossier-ai/internal/usecase/users"
)

type stubSlides struct {
	mu       sync.Mutex
	err      error
	calls    int
	research *domain.ResearchData
}

func (s *stubSlides) GenerateSlides(_ context.Context, outline domain.Outline, research *domain.ResearchData, _ domain.CitationStyle) ([]domain.Slide, domain.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.research = research
	if s.err != nil {
		return nil, domain.TokenUsage{}, s.err
	}
	out := make([]domain.Slide, len(outline.Slides))
	for i, sl := range outline.Slides {
		out[i] = domain.Slide{Index: i, Title: sl.Title, Bullets: sl.Bullets, Type: sl.Type, Body: "body " + sl.Title}
	}
	return out, domain.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, nil
}

type failingQueue struct{ domain.PresentationQueue }

func (failingQueue) Enqueue(context.Context, domain.PresentationJob) error {
	return errors.New("broker down")
}

type fixture struct {
	store *repo.Memory
	queue *queue.MemoryPresentationQueue
	hub   *notify.Hub
	gen   *stubSlides
	svc   *Service
	ids   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: repo.NewMemory(),
		queue: queue.NewMemoryPresentationQueue(16),
		hub:   notify.NewHub(),
		gen:   &stubSlides{},
	}
	f.svc = NewService(Deps{
		Presentations: f.store,
		Drafts:        f.store,
		Users:         users.NewService(f.store),
		Queue:         f.queue,
		Generator:     f.gen,
		Notifier:      f.hub,
		Analytics:     f.store,
	}, Config{MaxAttempts: 3, PollInterval: 20 * time.Millisecond}, zerolog.Nop())
	f.svc.newID = func() string {
		f.ids++
		return fmt.Sprintf("id-%d", f.ids)
	}
	return f
}

func testOutline() domain.Outline {
	o := domain.Outline{Title: "Deck"}
	for i := 0; i < 5; i++ {
		o.Slides = append(o.Slides, domain.OutlineSlide{Index: i, Title: fmt.Sprintf("S%d", i), Bullets: []string{"b"}, Type: domain.SlideTypeContent})
	}
	return o
}

func (f *fixture) start(t *testing.T) domain.Presentation {
	t.Helper()
	p, err := f.svc.Start(context.Background(), StartRequest{Outline: testOutline(), UserID: "u1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return p
}

func (f *fixture) receive(t *testing.T) (domain.PresentationJob, domain.AckFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, ack, err := f.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return job, ack
}

func TestStartCreatesAndEnqueues(t *testing.T) {
	f := newFixture(t)
	p := f.start(t)

	if p.Status != domain.PresentationGenerating || len(p.Slides) != 0 {
		t.Fatalf("презентация должна начинаться в generating без слайдов: %+v", p)
	}
	if p.CitationStyle != domain.CitationAPA || p.Theme != defaultTheme {
		t.Fatalf("значения по умолчанию не применены: %+v", p)
	}
	job, _ := f.receive(t)
	if job.ID != p.JobID || job.PresentationID != p.ID || job.Cause != domain.JobCauseRequested {
		t.Fatalf("неожиданная задача: %+v", job)
	}
	if _, err := f.store.GetUser(context.Background(), "u1"); err != nil {
		t.Fatalf("пользователь должен быть создан: %v", err)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	cases := []StartRequest{
		{Outline: testOutline()},
		{UserID: "u1"},
		{UserID: "u1", Outline: testOutline(), CitationStyle: "harvard"},
		{UserID: "u1", Outline: testOutline(), DraftID: "missing"},
	}
	for _, req := range cases {
		if _, err := f.svc.Start(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ожидали ErrValidation для %+v, получили %v", req, err)
		}
	}
}

func TestStartEnqueueFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.svc.queue = failingQueue{}

	if _, err := f.svc.Start(context.Background(), StartRequest{Outline: testOutline(), UserID: "u1"}); err == nil {
		t.Fatalf("ожидали ошибку постановки в очередь")
	}
	p, err := f.store.GetPresentation(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("презентация должна существовать: %v", err)
	}
	if p.Status != domain.PresentationFailed {
		t.Fatalf("ожидали failed, получили %s", p.Status)
	}
}

func TestWorkerCompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, _ := f.store.CreateDraft(ctx, domain.Draft{ID: "d1", Title: "Deck", Outline: testOutline(), Research: &domain.ResearchData{Queries: []string{"q"}}})
	p, err := f.svc.Start(ctx, StartRequest{DraftID: draft.ID, Outline: testOutline(), UserID: "u1", CitationStyle: "MLA"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, unsubscribe, _ := f.hub.Subscribe(ctx, p.ID)
	defer unsubscribe()

	worker := NewWorker(zerolog.Nop(), f.queue, f.store, f.svc)
	job, ack := f.receive(t)
	worker.handle(ctx, job, ack)

	got, _ := f.store.GetPresentation(ctx, p.ID)
	if got.Status != domain.PresentationCompleted || len(got.Slides) != 5 || got.TokenUsage.TotalTokens != 30 {
		t.Fatalf("неожиданный результат: %+v", got)
	}
	if f.gen.research == nil || f.gen.research.Queries[0] != "q" {
		t.Fatalf("генератор должен получить исследование черновика")
	}
	select {
	case st := <-updates:
		if st != domain.PresentationCompleted {
			t.Fatalf("неожиданное уведомление %q", st)
		}
	case <-time.After(time.Second):
		t.Fatalf("уведомление о завершении не получено")
	}
	if done, _, _ := f.store.EnsureJob(ctx, job.ID); !done {
		t.Fatalf("задача должна быть помечена обработанной")
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("model overloaded")
	ctx := context.Background()
	p := f.start(t)

	worker := NewWorker(zerolog.Nop(), f.queue, f.store, f.svc)
	for i := 0; i < 3; i++ {
		job, ack := f.receive(t)
		worker.handle(ctx, job, ack)
	}

	got, _ := f.store.GetPresentation(ctx, p.ID)
	if got.Status != domain.PresentationFailed || !strings.Contains(got.ErrorMessage, "model overloaded") {
		t.Fatalf("ожидали failed с сообщением об ошибке: %+v", got)
	}
	if f.gen.calls != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", f.gen.calls)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, _, err := f.queue.Receive(shortCtx); err == nil {
		t.Fatalf("после последней попытки задача не должна возвращаться в очередь")
	}
}

func TestProcessJobSkipsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.start(t)
	_ = f.store.FailPresentation(ctx, p.ID, "cancelled")

	job, _ := f.receive(t)
	if outcome := f.svc.ProcessJob(ctx, job, 1, zerolog.Nop()); outcome != JobCompleted {
		t.Fatalf("ожидали JobCompleted, получили %v", outcome)
	}
	if f.gen.calls != 0 {
		t.Fatalf("генератор не должен вызываться для финального статуса")
	}
}

func TestProcessJobInterruptedOnShutdown(t *testing.T) {
	f := newFixture(t)
	f.gen.err = context.Canceled
	p := f.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := f.svc.ProcessJob(ctx, domain.PresentationJob{ID: p.JobID, PresentationID: p.ID}, 3, zerolog.Nop())
	if outcome != JobInterrupted {
		t.Fatalf("ожидали JobInterrupted, получили %v", outcome)
	}
	got, _ := f.store.GetPresentation(context.Background(), p.ID)
	if got.Status != domain.PresentationGenerating {
		t.Fatalf("прерванная задача не должна менять статус: %s", got.Status)
	}
}

func TestWatchStatusUntilTerminal(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p := f.start(t)

	var (
		mu       sync.Mutex
		statuses []domain.PresentationStatus
	)
	done := make(chan error, 1)
	go func() {
		done <- f.svc.WatchStatus(ctx, p.ID, func(got domain.Presentation) error {
			mu.Lock()
			statuses = append(statuses, got.Status)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	job, _ := f.receive(t)
	f.svc.ProcessJob(ctx, job, 1, zerolog.Nop())

	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 || statuses[0] != domain.PresentationGenerating || statuses[1] != domain.PresentationCompleted {
		t.Fatalf("неожиданная последовательность статусов: %v", statuses)
	}
}

func TestUpdateSlidesOwnershipAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.start(t)

	if _, err := f.svc.UpdateSlides(ctx, "u1", p.ID, nil); !errors.Is(err, ErrStillGenerating) {
		t.Fatalf("ожидали ErrStillGenerating, получили %v", err)
	}
	job, _ := f.receive(t)
	f.svc.ProcessJob(ctx, job, 1, zerolog.Nop())

	if _, err := f.svc.UpdateSlides(ctx, "intruder", p.ID, nil); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("ожидали ErrForbidden, получили %v", err)
	}
	reordered := []domain.Slide{{Index: 4, Title: "last", Type: "bogus"}, {Index: 0, Title: "first", Type: domain.SlideTypeIntro}}
	got, err := f.svc.UpdateSlides(ctx, "u1", p.ID, reordered)
	if err != nil {
		t.Fatalf("update slides: %v", err)
	}
	if got.Slides[0].Index != 0 || got.Slides[0].Title != "last" || got.Slides[0].Type != domain.SlideTypeContent || got.Slides[1].Index != 1 {
		t.Fatalf("слайды должны переиндексироваться по позиции: %+v", got.Slides)
	}
	if err := f.svc.Delete(ctx, "intruder", p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("чужой пользователь не может удалить презентацию: %v", err)
	}
	if err := f.svc.Delete(ctx, "u1", p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestFormatMarkdown(t *testing.T) {
	p := domain.Presentation{
		Title: "Deck",
		Slides: []domain.Slide{
			{Title: "Intro", Body: "Hello", Bullets: []string{"one", " "}, SpeakerNotes: "smile", Citations: []string{"Ref A"}},
			{Title: "", Bullets: []string{"two"}, Citations: []string{"Ref A", "Ref B"}},
		},
	}
	md := FormatMarkdown(p)
	for _, want := range []string{"# Deck", "## 1. Intro", "Hello", "- one", "> smile", "## 2. Slide 2", "## Sources", "- Ref B"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown не содержит %q:\n%s", want, md)
		}
	}
	if strings.Count(md, "Ref A") != 1 {
		t.Fatalf("источник должен встречаться в списке один раз:\n%s", md)
	}
}

func TestFormatMarkdownFallsBackToOutline(t *testing.T) {
	md := FormatMarkdown(domain.Presentation{Title: "Deck", Outline: testOutline()})
	if !strings.Contains(md, "## 1. S0") || !strings.Contains(md, "- b") {
		t.Fatalf("без слайдов должен использоваться план:\n%s", md)
	}
}
