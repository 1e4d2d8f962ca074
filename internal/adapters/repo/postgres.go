package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
)

// pgxPool подмножество pgxpool.Pool, которое использует репозиторий.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool pgxPool
}

var (
	_ domain.DraftRepo          = (*Postgres)(nil)
	_ domain.PresentationRepo   = (*Postgres)(nil)
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.JobStatusRepo      = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool pgxPool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var userID sql.NullString
	if metric.UserID != "" {
		userID = sql.NullString{String: metric.UserID, Valid: true}
	}
	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, userID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// ---- drafts ----

const draftColumns = `id, title, prompt, enhanced_prompt, outline, research, created_at, updated_at`

func scanDraft(row pgx.Row) (domain.Draft, error) {
	var (
		d        domain.Draft
		enhanced sql.NullString
		outline  []byte
		research []byte
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Prompt, &enhanced, &outline, &research, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Draft{}, err
	}
	d.EnhancedPrompt = enhanced.String
	if err := json.Unmarshal(outline, &d.Outline); err != nil {
		return domain.Draft{}, fmt.Errorf("decode outline: %w", err)
	}
	if len(research) > 0 && string(research) != "null" {
		var r domain.ResearchData
		if err := json.Unmarshal(research, &r); err != nil {
			return domain.Draft{}, fmt.Errorf("decode research: %w", err)
		}
		d.Research = &r
	}
	return d, nil
}

// CreateDraft сохраняет черновик.
func (p *Postgres) CreateDraft(ctx context.Context, d domain.Draft) (domain.Draft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	outline, err := json.Marshal(d.Outline)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("marshal outline: %w", err)
	}
	var research []byte
	if d.Research != nil {
		if research, err = json.Marshal(d.Research); err != nil {
			return domain.Draft{}, fmt.Errorf("marshal research: %w", err)
		}
	}
	var enhanced sql.NullString
	if d.EnhancedPrompt != "" {
		enhanced = sql.NullString{String: d.EnhancedPrompt, Valid: true}
	}

	start := time.Now()
	saved, err := scanDraft(p.pool.QueryRow(ctx, `
INSERT INTO drafts (id, title, prompt, enhanced_prompt, outline, research)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+draftColumns, d.ID, d.Title, d.Prompt, enhanced, outline, research))
	metrics.ObserveNetworkRequest("postgres", "drafts_insert", "drafts", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Draft{}, domain.ErrAlreadyExists
		}
		return domain.Draft{}, err
	}
	return saved, nil
}

// GetDraft возвращает черновик по id.
func (p *Postgres) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	d, err := scanDraft(p.pool.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "drafts_get", "drafts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Draft{}, domain.ErrNotFound
	}
	return d, err
}

// ListDrafts возвращает последние изменённые черновики.
func (p *Postgres) ListDrafts(ctx context.Context, limit int) ([]domain.Draft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+draftColumns+` FROM drafts ORDER BY updated_at DESC LIMIT $1`, limit)
	metrics.ObserveNetworkRequest("postgres", "drafts_list", "drafts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drafts := make([]domain.Draft, 0, limit)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// UpdateDraft применяет частичное обновление.
func (p *Postgres) UpdateDraft(ctx context.Context, id string, patch domain.DraftPatch) (domain.Draft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var title sql.NullString
	if patch.Title != nil {
		title = sql.NullString{String: *patch.Title, Valid: true}
	}
	var outline []byte
	if patch.Outline != nil {
		data, err := json.Marshal(patch.Outline)
		if err != nil {
			return domain.Draft{}, fmt.Errorf("marshal outline: %w", err)
		}
		outline = data
	}

	start := time.Now()
	d, err := scanDraft(p.pool.QueryRow(ctx, `
UPDATE drafts
SET title = COALESCE($2, title),
    outline = COALESCE($3, outline),
    updated_at = now()
WHERE id = $1
RETURNING `+draftColumns, id, title, outline))
	metrics.ObserveNetworkRequest("postgres", "drafts_update", "drafts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Draft{}, domain.ErrNotFound
	}
	return d, err
}

// DeleteDraft удаляет черновик.
func (p *Postgres) DeleteDraft(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM drafts WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "drafts_delete", "drafts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---- presentations ----

const presentationColumns = `id, user_id, draft_id, title, outline, slides, citation_style, theme, status, token_usage, error_message, job_id, created_at, updated_at`

func scanPresentation(row pgx.Row) (domain.Presentation, error) {
	var (
		pr      domain.Presentation
		draftID sql.NullString
		errMsg  sql.NullString
		outline []byte
		slides  []byte
		usage   []byte
		style   string
		status  string
	)
	if err := row.Scan(&pr.ID, &pr.UserID, &draftID, &pr.Title, &outline, &slides, &style, &pr.Theme, &status, &usage, &errMsg, &pr.JobID, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return domain.Presentation{}, err
	}
	pr.DraftID = draftID.String
	pr.ErrorMessage = errMsg.String
	pr.CitationStyle = domain.CitationStyle(style)
	pr.Status = domain.PresentationStatus(status)
	if err := json.Unmarshal(outline, &pr.Outline); err != nil {
		return domain.Presentation{}, fmt.Errorf("decode outline: %w", err)
	}
	if len(slides) > 0 {
		if err := json.Unmarshal(slides, &pr.Slides); err != nil {
			return domain.Presentation{}, fmt.Errorf("decode slides: %w", err)
		}
	}
	if pr.Slides == nil {
		pr.Slides = []domain.Slide{}
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &pr.TokenUsage); err != nil {
			return domain.Presentation{}, fmt.Errorf("decode token usage: %w", err)
		}
	}
	return pr, nil
}

// CreatePresentation сохраняет новую презентацию.
func (p *Postgres) CreatePresentation(ctx context.Context, pr domain.Presentation) (domain.Presentation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	outline, err := json.Marshal(pr.Outline)
	if err != nil {
		return domain.Presentation{}, fmt.Errorf("marshal outline: %w", err)
	}
	if pr.Slides == nil {
		pr.Slides = []domain.Slide{}
	}
	slides, err := json.Marshal(pr.Slides)
	if err != nil {
		return domain.Presentation{}, fmt.Errorf("marshal slides: %w", err)
	}
	usage, _ := json.Marshal(pr.TokenUsage)
	var draftID sql.NullString
	if pr.DraftID != "" {
		draftID = sql.NullString{String: pr.DraftID, Valid: true}
	}

	start := time.Now()
	saved, err := scanPresentation(p.pool.QueryRow(ctx, `
INSERT INTO presentations (id, user_id, draft_id, title, outline, slides, citation_style, theme, status, token_usage, job_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+presentationColumns,
		pr.ID, pr.UserID, draftID, pr.Title, outline, slides, string(pr.CitationStyle), pr.Theme, string(pr.Status), usage, pr.JobID))
	metrics.ObserveNetworkRequest("postgres", "presentations_insert", "presentations", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Presentation{}, domain.ErrAlreadyExists
		}
		return domain.Presentation{}, err
	}
	return saved, nil
}

// GetPresentation возвращает презентацию по id.
func (p *Postgres) GetPresentation(ctx context.Context, id string) (domain.Presentation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	pr, err := scanPresentation(p.pool.QueryRow(ctx, `SELECT `+presentationColumns+` FROM presentations WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "presentations_get", "presentations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Presentation{}, domain.ErrNotFound
	}
	return pr, err
}

// CompletePresentation сохраняет слайды и переводит презентацию в completed.
func (p *Postgres) CompletePresentation(ctx context.Context, id string, slides []domain.Slide, usage domain.TokenUsage) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	slidesJSON, err := json.Marshal(slides)
	if err != nil {
		return fmt.Errorf("marshal slides: %w", err)
	}
	usageJSON, _ := json.Marshal(usage)

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE presentations
SET slides = $2, token_usage = $3, status = 'completed', error_message = NULL, updated_at = now()
WHERE id = $1 AND status = 'generating'
`, id, slidesJSON, usageJSON)
	metrics.ObserveNetworkRequest("postgres", "presentations_complete", "presentations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.notGeneratingReason(ctx, id)
	}
	return nil
}

// FailPresentation переводит презентацию в failed с сообщением об ошибке.
func (p *Postgres) FailPresentation(ctx context.Context, id, message string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE presentations
SET status = 'failed', error_message = $2, updated_at = now()
WHERE id = $1 AND status = 'generating'
`, id, message)
	metrics.ObserveNetworkRequest("postgres", "presentations_fail", "presentations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.notGeneratingReason(ctx, id)
	}
	return nil
}

func (p *Postgres) notGeneratingReason(ctx context.Context, id string) error {
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM presentations WHERE id=$1)`, id).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "presentations_exists", "presentations", start, err)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrNotGenerating
}

// ReassignJob записывает идентификатор задачи и обновляет updated_at.
func (p *Postgres) ReassignJob(ctx context.Context, id, jobID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE presentations SET job_id = $2, updated_at = now()
WHERE id = $1 AND status = 'generating'
`, id, jobID)
	metrics.ObserveNetworkRequest("postgres", "presentations_reassign_job", "presentations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.notGeneratingReason(ctx, id)
	}
	return nil
}

// UpdateSlides заменяет слайды презентации.
func (p *Postgres) UpdateSlides(ctx context.Context, id string, slides []domain.Slide) (domain.Presentation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	data, err := json.Marshal(slides)
	if err != nil {
		return domain.Presentation{}, fmt.Errorf("marshal slides: %w", err)
	}
	start := time.Now()
	pr, err := scanPresentation(p.pool.QueryRow(ctx, `
UPDATE presentations SET slides = $2, updated_at = now()
WHERE id = $1
RETURNING `+presentationColumns, id, data))
	metrics.ObserveNetworkRequest("postgres", "presentations_update_slides", "presentations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Presentation{}, domain.ErrNotFound
	}
	return pr, err
}

// DeletePresentation удаляет презентацию.
func (p *Postgres) DeletePresentation(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM presentations WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "presentations_delete", "presentations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListStale возвращает презентации в generating, не обновлявшиеся с updatedBefore.
func (p *Postgres) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Presentation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+presentationColumns+`
FROM presentations
WHERE status = 'generating' AND updated_at < $1
ORDER BY updated_at
LIMIT $2
`, updatedBefore, limit)
	metrics.ObserveNetworkRequest("postgres", "presentations_list_stale", "presentations", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Presentation
	for rows.Next() {
		pr, err := scanPresentation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ---- users ----

// GetUser возвращает пользователя по id.
func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user  domain.User
		email sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, email, created_at FROM users WHERE id=$1`, id).Scan(&user.ID, &email, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	user.Email = email.String
	return user, nil
}

// InsertUser создаёт пользователя. Конфликт по id возвращает ErrAlreadyExists.
func (p *Postgres) InsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var email sql.NullString
	if user.Email != "" {
		email = sql.NullString{String: user.Email, Valid: true}
	}
	var (
		saved      domain.User
		savedEmail sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (id, email) VALUES ($1, $2)
RETURNING id, email, created_at
`, user.ID, email).Scan(&saved.ID, &savedEmail, &saved.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_insert", "users", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, domain.ErrAlreadyExists
		}
		return domain.User{}, err
	}
	saved.Email = savedEmail.String
	_ = p.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventUserRegistered,
		UserID: saved.ID,
	})
	return saved, nil
}

// ---- presentation jobs ----

// EnsureJob регистрирует попытку обработки задачи генерации.
func (p *Postgres) EnsureJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		done     sql.NullTime
		attempts int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO presentation_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = presentation_job_statuses.attempts + 1,
        updated_at = now()
RETURNING done_at, attempts
`, jobID).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("postgres", "presentation_job_statuses_upsert", "presentation_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return done.Valid, attempts, nil
}

// MarkJobDone помечает задачу как завершённую.
func (p *Postgres) MarkJobDone(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE presentation_job_statuses
SET done_at = COALESCE(done_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "presentation_job_statuses_mark_done", "presentation_job_statuses", start, err)
	return err
}

// JobAttempts возвращает число зарегистрированных попыток задачи.
func (p *Postgres) JobAttempts(ctx context.Context, jobID string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var attempts int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT attempts FROM presentation_job_statuses WHERE job_id=$1`, jobID).Scan(&attempts)
	metrics.ObserveNetworkRequest("postgres", "presentation_job_statuses_get", "presentation_job_statuses", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return attempts, err
}
