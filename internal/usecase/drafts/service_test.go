package drafts

import (
	"context"
	"errors"
	"testing"

	"dossier-ai/internal/adapters/repo"
	"dossier-ai/internal/domain"
)

func sampleOutline(n int) domain.Outline {
	o := domain.Outline{Title: "Deck"}
	for i := 0; i < n; i++ {
		o.Slides = append(o.Slides, domain.OutlineSlide{Index: 42, Title: "s", Type: "weird"})
	}
	return o
}

func TestCreateAssignsIDAndNormalizes(t *testing.T) {
	svc := NewService(repo.NewMemory())
	d, err := svc.Create(context.Background(), CreateInput{Prompt: "p", Outline: sampleOutline(6)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" || d.Title != "Deck" {
		t.Fatalf("ожидали id и заголовок из плана: %+v", d)
	}
	for i, sl := range d.Outline.Slides {
		if sl.Index != i || sl.Type != domain.SlideTypeContent {
			t.Fatalf("слайд %d не нормализован: %+v", i, sl)
		}
	}
	got, err := svc.Get(context.Background(), d.ID)
	if err != nil || got.Outline.Title != "Deck" {
		t.Fatalf("черновик не читается: %+v, %v", got, err)
	}
}

func TestCreateValidates(t *testing.T) {
	svc := NewService(repo.NewMemory())
	if _, err := svc.Create(context.Background(), CreateInput{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{Title: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("план без слайдов должен отклоняться, получили %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	svc := NewService(repo.NewMemory())
	ctx := context.Background()
	d, _ := svc.Create(ctx, CreateInput{Title: "old", Outline: sampleOutline(5)})

	if _, err := svc.Update(ctx, d.ID, domain.DraftPatch{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("пустая правка должна отклоняться, получили %v", err)
	}
	title := " new "
	updated, err := svc.Update(ctx, d.ID, domain.DraftPatch{Title: &title})
	if err != nil || updated.Title != "new" {
		t.Fatalf("неожиданный результат правки: %+v, %v", updated, err)
	}
	if err := svc.Delete(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("после удаления ожидали ErrNotFound, получили %v", err)
	}
	if err := svc.Delete(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("повторное удаление должно вернуть ErrNotFound, получили %v", err)
	}
}

func TestNormalizeOutlineTruncates(t *testing.T) {
	o := NormalizeOutline(sampleOutline(25))
	if len(o.Slides) != domain.MaxOutlineSlides {
		t.Fatalf("ожидали %d слайдов, получили %d", domain.MaxOutlineSlides, len(o.Slides))
	}
}
