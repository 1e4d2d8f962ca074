package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/adapters/repo"
	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/queue"
)

type recordingFailer struct {
	store  *repo.Memory
	failed []string
}

func (r *recordingFailer) Fail(ctx context.Context, p domain.Presentation, message string, _ zerolog.Logger) {
	r.failed = append(r.failed, p.ID)
	_ = r.store.FailPresentation(ctx, p.ID, message)
}

func TestSweepRequeuesAndFails(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	q := queue.NewMemoryPresentationQueue(8)
	failer := &recordingFailer{store: store}

	for _, id := range []string{"fresh-attempts", "exhausted"} {
		_, _ = store.CreatePresentation(ctx, domain.Presentation{ID: id, UserID: "u", Status: domain.PresentationGenerating, JobID: "job-" + id})
	}
	_, _ = store.CreatePresentation(ctx, domain.Presentation{ID: "done", UserID: "u", Status: domain.PresentationCompleted, JobID: "job-done"})
	_, _, _ = store.EnsureJob(ctx, "job-fresh-attempts")
	for i := 0; i < 3; i++ {
		_, _, _ = store.EnsureJob(ctx, "job-exhausted")
	}

	svc := NewService(store, store, q, failer, time.Minute, 3, zerolog.Nop())
	svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	res, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Requeued != 1 || res.Failed != 1 {
		t.Fatalf("неожиданный итог: %+v", res)
	}
	if len(failer.failed) != 1 || failer.failed[0] != "exhausted" {
		t.Fatalf("failed должна стать только исчерпавшая попытки презентация: %v", failer.failed)
	}

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, _, err := q.Receive(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if job.ID != "job-fresh-attempts" || job.Cause != domain.JobCauseRecovered {
		t.Fatalf("задача должна вернуться с прежним job_id: %+v", job)
	}
}

func TestSweepSkipsRecentlyUpdated(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	q := queue.NewMemoryPresentationQueue(8)
	_, _ = store.CreatePresentation(ctx, domain.Presentation{ID: "p", UserID: "u", Status: domain.PresentationGenerating, JobID: "j"})

	svc := NewService(store, store, q, &recordingFailer{store: store}, 10*time.Minute, 3, zerolog.Nop())
	res, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Requeued != 0 || res.Failed != 0 {
		t.Fatalf("свежая презентация не должна трогаться: %+v", res)
	}
}
