package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
	httpinfra "dossier-ai/internal/infra/http"
	"dossier-ai/internal/infra/metrics"
	"dossier-ai/internal/sse"
	"dossier-ai/internal/usecase/drafts"
	outlineuc "dossier-ai/internal/usecase/outline"
	"dossier-ai/internal/usecase/presentation"
	"dossier-ai/internal/usecase/users"
)

const (
	defaultHeartbeat = 15 * time.Second
	crudTimeout      = 30 * time.Second
)

type outlineService interface {
	Generate(ctx context.Context, in outlineuc.Input) (outlineuc.Result, error)
	GenerateStream(ctx context.Context, in outlineuc.Input, emit func(domain.Event) error) error
}

// health активные бэкенды для /healthz.
type health struct {
	Store    string `json:"store"`
	Queue    string `json:"queue"`
	Notifier string `json:"notifier"`
	Search   string `json:"search"`
	Auth     string `json:"auth"`
}

type api struct {
	log           zerolog.Logger
	outlines      outlineService
	presentations *presentation.Service
	drafts        *drafts.Service
	users         *users.Service
	auth          *httpinfra.Authenticator
	health        health
	heartbeat     time.Duration
}

func (a *api) routes(r chi.Router) {
	r.Get("/healthz", a.healthz)

	r.Post("/api/generate-outline", a.generateOutline)
	r.Post("/api/generate-outline-stream", a.generateOutlineStream)
	r.Get("/api/presentations/{id}/stream", a.streamPresentation)

	r.Group(func(crud chi.Router) {
		crud.Use(middleware.Timeout(crudTimeout))

		crud.Route("/api/drafts", func(d chi.Router) {
			d.Post("/", a.createDraft)
			d.Get("/", a.listDrafts)
			d.Get("/{id}", a.getDraft)
			d.Patch("/{id}", a.updateDraft)
			d.Delete("/{id}", a.deleteDraft)
		})

		crud.Group(func(protected chi.Router) {
			protected.Use(a.auth.RequireUser)
			protected.Post("/api/generate-presentation", a.generatePresentation)
			protected.Post("/api/users/ensure", a.ensureUser)
			protected.Get("/api/presentations/{id}", a.getPresentation)
			protected.Get("/api/presentations/{id}/markdown", a.presentationMarkdown)
			protected.Put("/api/presentations/{id}/slides", a.updateSlides)
			protected.Delete("/api/presentations/{id}", a.deletePresentation)
		})
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, presentation.ErrStillGenerating), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg("api: ошибка обработки запроса")
	}
	httpinfra.WriteError(w, status, err)
}

func (a *api) badRequest(w http.ResponseWriter, err error) {
	httpinfra.WriteError(w, http.StatusBadRequest, err)
}

// optionalUser возвращает пользователя, если запрос содержит действительную сессию.
func (a *api) optionalUser(r *http.Request) string {
	s, err := a.auth.Authenticate(r)
	if err != nil {
		return ""
	}
	return s.UserID
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	httpinfra.WriteJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		health
	}{Status: "ok", health: a.health})
}

type partialOutlineResponse struct {
	Research domain.ResearchData `json:"research"`
	Error    string              `json:"error"`
}

func (a *api) generateOutline(w http.ResponseWriter, r *http.Request) {
	var in outlineuc.Input
	if err := httpinfra.DecodeJSON(w, r, &in); err != nil {
		a.badRequest(w, err)
		return
	}
	in.UserID = a.optionalUser(r)

	res, err := a.outlines.Generate(r.Context(), in)
	if partial, ok := outlineuc.IsPartial(err); ok {
		a.log.Warn().Err(partial.Err).Msg("api: план не построен, возвращаем исследование")
		httpinfra.WriteJSON(w, http.StatusPartialContent, partialOutlineResponse{Research: partial.Research, Error: partial.Err.Error()})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, res)
}

func (a *api) generateOutlineStream(w http.ResponseWriter, r *http.Request) {
	var in outlineuc.Input
	if err := httpinfra.DecodeJSON(w, r, &in); err != nil {
		a.badRequest(w, err)
		return
	}
	if err := in.Validate(); err != nil {
		a.fail(w, r, err)
		return
	}
	in.UserID = a.optionalUser(r)

	stream, err := sse.NewWriter(w)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	gauge := metrics.SSEConnections.WithLabelValues("outline")
	gauge.Inc()
	defer gauge.Dec()

	if err := a.outlines.GenerateStream(r.Context(), in, stream.Send); err != nil {
		a.log.Warn().Err(err).Str("request_id", httpinfra.RequestID(r)).Msg("api: поток плана завершился ошибкой")
	}
}

type startResponse struct {
	PresentationID string                    `json:"presentation_id"`
	Status         domain.PresentationStatus `json:"status"`
}

func (a *api) generatePresentation(w http.ResponseWriter, r *http.Request) {
	session, _ := httpinfra.SessionFromContext(r.Context())
	var req presentation.StartRequest
	if err := httpinfra.DecodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = session.UserID
	}
	if req.UserID != session.UserID {
		httpinfra.WriteError(w, http.StatusForbidden, errors.New("user_id не совпадает с сессией"))
		return
	}
	req.Email = session.Email

	p, err := a.presentations.Start(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, startResponse{PresentationID: p.ID, Status: p.Status})
}

func sessionUser(r *http.Request) string {
	s, _ := httpinfra.SessionFromContext(r.Context())
	return s.UserID
}

func (a *api) getPresentation(w http.ResponseWriter, r *http.Request) {
	p, err := a.presentations.Get(r.Context(), sessionUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, p)
}

func (a *api) presentationMarkdown(w http.ResponseWriter, r *http.Request) {
	p, err := a.presentations.Get(r.Context(), sessionUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(presentation.FormatMarkdown(p)))
}

type slidesRequest struct {
	Slides []domain.Slide `json:"slides"`
}

func (a *api) updateSlides(w http.ResponseWriter, r *http.Request) {
	var req slidesRequest
	if err := httpinfra.DecodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	if req.Slides == nil {
		a.badRequest(w, errors.New("slides обязателен"))
		return
	}
	p, err := a.presentations.UpdateSlides(r.Context(), sessionUser(r), chi.URLParam(r, "id"), req.Slides)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, p)
}

func (a *api) deletePresentation(w http.ResponseWriter, r *http.Request) {
	if err := a.presentations.Delete(r.Context(), sessionUser(r), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) streamPresentation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream, err := sse.NewWriter(w)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	gauge := metrics.SSEConnections.WithLabelValues("presentation")
	gauge.Inc()
	defer gauge.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	heartbeatDone := make(chan struct{})
	// после возврата из обработчика писать в ResponseWriter нельзя
	defer func() {
		cancel()
		<-heartbeatDone
	}()
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(a.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := stream.Comment("heartbeat"); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = a.presentations.WatchStatus(ctx, id, func(p domain.Presentation) error {
		return stream.Send(domain.Event{Type: domain.EventStatus, Status: string(p.Status), Presentation: &p})
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, domain.ErrNotFound):
		_ = stream.Send(domain.Event{Type: domain.EventError, Message: "презентация не найдена"})
	default:
		a.log.Warn().Err(err).Str("presentation_id", id).Msg("api: поток статуса прерван")
		_ = stream.Send(domain.Event{Type: domain.EventError, Message: err.Error()})
	}
}

func (a *api) createDraft(w http.ResponseWriter, r *http.Request) {
	var in drafts.CreateInput
	if err := httpinfra.DecodeJSON(w, r, &in); err != nil {
		a.badRequest(w, err)
		return
	}
	d, err := a.drafts.Create(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, d)
}

func (a *api) listDrafts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.badRequest(w, errors.New("limit должен быть неотрицательным числом"))
			return
		}
		limit = n
	}
	list, err := a.drafts.List(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"drafts": list})
}

func (a *api) getDraft(w http.ResponseWriter, r *http.Request) {
	d, err := a.drafts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, d)
}

func (a *api) updateDraft(w http.ResponseWriter, r *http.Request) {
	var patch domain.DraftPatch
	if err := httpinfra.DecodeJSON(w, r, &patch); err != nil {
		a.badRequest(w, err)
		return
	}
	d, err := a.drafts.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, d)
}

func (a *api) deleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := a.drafts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ensureUserRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

type ensureUserResponse struct {
	User    domain.User `json:"user"`
	Created bool        `json:"created"`
}

func (a *api) ensureUser(w http.ResponseWriter, r *http.Request) {
	session, _ := httpinfra.SessionFromContext(r.Context())
	var req ensureUserRequest
	if err := httpinfra.DecodeJSON(w, r, &req); err != nil {
		a.badRequest(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = session.UserID
	}
	if req.UserID != session.UserID {
		httpinfra.WriteError(w, http.StatusForbidden, errors.New("user_id не совпадает с сессией"))
		return
	}
	if req.Email == "" {
		req.Email = session.Email
	}
	user, created, err := a.users.Ensure(r.Context(), req.UserID, req.Email)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, ensureUserResponse{User: user, Created: created})
}
