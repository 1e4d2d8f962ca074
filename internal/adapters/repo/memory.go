package repo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"dossier-ai/internal/domain"
)

// Memory хранит данные в памяти процесса. Подходит только для одного экземпляра сервиса.
type Memory struct {
	mu            sync.RWMutex
	drafts        map[string]domain.Draft
	presentations map[string]domain.Presentation
	users         map[string]domain.User
	jobs          map[string]*memoryJob
	metrics       []domain.BusinessMetric
	now           func() time.Time
}

type memoryJob struct {
	attempts int
	done     bool
}

var (
	_ domain.DraftRepo          = (*Memory)(nil)
	_ domain.PresentationRepo   = (*Memory)(nil)
	_ domain.UserRepo           = (*Memory)(nil)
	_ domain.JobStatusRepo      = (*Memory)(nil)
	_ domain.BusinessMetricRepo = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		drafts:        make(map[string]domain.Draft),
		presentations: make(map[string]domain.Presentation),
		users:         make(map[string]domain.User),
		jobs:          make(map[string]*memoryJob),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// clone возвращает глубокую копию значения, чтобы вызывающий не менял хранимые данные.
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// RecordBusinessMetric сохраняет событие.
func (m *Memory) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = m.now()
	}
	m.mu.Lock()
	m.metrics = append(m.metrics, metric)
	m.mu.Unlock()
	return nil
}

// BusinessMetrics возвращает сохранённые события.
func (m *Memory) BusinessMetrics() []domain.BusinessMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BusinessMetric(nil), m.metrics...)
}

// CreateDraft реализует domain.DraftRepo.
func (m *Memory) CreateDraft(_ context.Context, d domain.Draft) (domain.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[d.ID]; ok {
		return domain.Draft{}, domain.ErrAlreadyExists
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	m.drafts[d.ID] = clone(d)
	return clone(d), nil
}

// GetDraft реализует domain.DraftRepo.
func (m *Memory) GetDraft(_ context.Context, id string) (domain.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return domain.Draft{}, domain.ErrNotFound
	}
	return clone(d), nil
}

// ListDrafts реализует domain.DraftRepo.
func (m *Memory) ListDrafts(_ context.Context, limit int) ([]domain.Draft, error) {
	m.mu.RLock()
	out := make([]domain.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		out = append(out, clone(d))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateDraft реализует domain.DraftRepo.
func (m *Memory) UpdateDraft(_ context.Context, id string, patch domain.DraftPatch) (domain.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return domain.Draft{}, domain.ErrNotFound
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Outline != nil {
		d.Outline = clone(*patch.Outline)
	}
	d.UpdatedAt = m.now()
	m.drafts[id] = d
	return clone(d), nil
}

// DeleteDraft реализует domain.DraftRepo.
func (m *Memory) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.drafts, id)
	for pid, p := range m.presentations {
		if p.DraftID == id {
			p.DraftID = ""
			m.presentations[pid] = p
		}
	}
	return nil
}

// CreatePresentation реализует domain.PresentationRepo.
func (m *Memory) CreatePresentation(_ context.Context, p domain.Presentation) (domain.Presentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presentations[p.ID]; ok {
		return domain.Presentation{}, domain.ErrAlreadyExists
	}
	if p.Slides == nil {
		p.Slides = []domain.Slide{}
	}
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.presentations[p.ID] = clone(p)
	return clone(p), nil
}

// GetPresentation реализует domain.PresentationRepo.
func (m *Memory) GetPresentation(_ context.Context, id string) (domain.Presentation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presentations[id]
	if !ok {
		return domain.Presentation{}, domain.ErrNotFound
	}
	return clone(p), nil
}

func (m *Memory) generatingLocked(id string) (domain.Presentation, error) {
	p, ok := m.presentations[id]
	if !ok {
		return domain.Presentation{}, domain.ErrNotFound
	}
	if p.Status != domain.PresentationGenerating {
		return domain.Presentation{}, domain.ErrNotGenerating
	}
	return p, nil
}

// CompletePresentation реализует domain.PresentationRepo.
func (m *Memory) CompletePresentation(_ context.Context, id string, slides []domain.Slide, usage domain.TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.generatingLocked(id)
	if err != nil {
		return err
	}
	p.Slides = clone(slides)
	p.TokenUsage = usage
	p.Status = domain.PresentationCompleted
	p.ErrorMessage = ""
	p.UpdatedAt = m.now()
	m.presentations[id] = p
	return nil
}

// FailPresentation реализует domain.PresentationRepo.
func (m *Memory) FailPresentation(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.generatingLocked(id)
	if err != nil {
		return err
	}
	p.Status = domain.PresentationFailed
	p.ErrorMessage = message
	p.UpdatedAt = m.now()
	m.presentations[id] = p
	return nil
}

// ReassignJob реализует domain.PresentationRepo.
func (m *Memory) ReassignJob(_ context.Context, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.generatingLocked(id)
	if err != nil {
		return err
	}
	p.JobID = jobID
	p.UpdatedAt = m.now()
	m.presentations[id] = p
	return nil
}

// UpdateSlides реализует domain.PresentationRepo.
func (m *Memory) UpdateSlides(_ context.Context, id string, slides []domain.Slide) (domain.Presentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presentations[id]
	if !ok {
		return domain.Presentation{}, domain.ErrNotFound
	}
	p.Slides = clone(slides)
	p.UpdatedAt = m.now()
	m.presentations[id] = p
	return clone(p), nil
}

// DeletePresentation реализует domain.PresentationRepo.
func (m *Memory) DeletePresentation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presentations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.presentations, id)
	return nil
}

// ListStale реализует domain.PresentationRepo.
func (m *Memory) ListStale(_ context.Context, updatedBefore time.Time, limit int) ([]domain.Presentation, error) {
	m.mu.RLock()
	var out []domain.Presentation
	for _, p := range m.presentations {
		if p.Status == domain.PresentationGenerating && p.UpdatedAt.Before(updatedBefore) {
			out = append(out, clone(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetUser реализует domain.UserRepo.
func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// InsertUser реализует domain.UserRepo.
func (m *Memory) InsertUser(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return domain.User{}, domain.ErrAlreadyExists
	}
	user.CreatedAt = m.now()
	m.users[user.ID] = user
	m.metrics = append(m.metrics, domain.BusinessMetric{
		Event:      domain.BusinessMetricEventUserRegistered,
		UserID:     user.ID,
		OccurredAt: user.CreatedAt,
	})
	return user, nil
}

// EnsureJob реализует domain.JobStatusRepo.
func (m *Memory) EnsureJob(_ context.Context, jobID string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		job = &memoryJob{}
		m.jobs[jobID] = job
	}
	job.attempts++
	return job.done, job.attempts, nil
}

// MarkJobDone реализует domain.JobStatusRepo.
func (m *Memory) MarkJobDone(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		job = &memoryJob{}
		m.jobs[jobID] = job
	}
	job.done = true
	return nil
}

// JobAttempts реализует domain.JobStatusRepo.
func (m *Memory) JobAttempts(_ context.Context, jobID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.attempts, nil
	}
	return 0, nil
}
