// Package apiclient клиент HTTP API Dossier AI для CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
	"dossier-ai/internal/sse"
)

// Client обращается к API. Потоковые запросы идут без общего таймаута.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	stream     *http.Client
	token      string
	userID     string
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken добавляет Authorization: Bearer к каждому запросу.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithDevUser передаёт пользователя заголовком X-User-ID. Работает только с dev-сервером.
func WithDevUser(id string) Option {
	return func(c *Client) { c.userID = strings.TrimSpace(id) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// APIError ответ API со статусом ошибки.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dossier api: status=%d message=%s", e.Status, e.Message)
}

// Unwrap сопоставляет статус с ошибками domain, чтобы работал errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return nil
	}
}

// PartialOutlineError исследование выполнено, план не построен (206).
type PartialOutlineError struct {
	Research domain.ResearchData `json:"research"`
	Message  string              `json:"error"`
}

func (e *PartialOutlineError) Error() string {
	return "план не построен: " + e.Message
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stream:     &http.Client{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// OutlineRequest запрос на построение плана.
type OutlineRequest struct {
	EnhancedPrompt string `json:"enhanced_prompt"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
}

// OutlineResult ответ блокирующего построения плана.
type OutlineResult struct {
	DraftID    string              `json:"draft_id,omitempty"`
	Title      string              `json:"title"`
	Outline    domain.Outline      `json:"outline"`
	Research   domain.ResearchData `json:"research"`
	TokenUsage domain.TokenUsage   `json:"token_usage"`
}

// GenerateOutline строит план без потока. При ответе 206 возвращает *PartialOutlineError.
func (c *Client) GenerateOutline(ctx context.Context, in OutlineRequest) (OutlineResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/generate-outline", in)
	if err != nil {
		return OutlineResult{}, err
	}
	var result OutlineResult
	if _, err := c.doStatus(c.stream, req, &result); err != nil {
		return OutlineResult{}, err
	}
	return result, nil
}

// StreamOutline строит план потоком событий. handle возвращает false, чтобы прекратить чтение.
func (c *Client) StreamOutline(ctx context.Context, in OutlineRequest, handle func(domain.Event) bool) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/generate-outline-stream", in)
	if err != nil {
		return err
	}
	return c.readEvents(ctx, req, handle)
}

// StartRequest запрос на генерацию презентации.
type StartRequest struct {
	DraftID       string               `json:"draft_id,omitempty"`
	Outline       domain.Outline       `json:"outline"`
	CitationStyle domain.CitationStyle `json:"citation_style,omitempty"`
	Theme         string               `json:"theme,omitempty"`
	UserID        string               `json:"user_id,omitempty"`
}

// StartResponse ответ на постановку генерации.
type StartResponse struct {
	PresentationID string                    `json:"presentation_id"`
	Status         domain.PresentationStatus `json:"status"`
}

func (c *Client) StartPresentation(ctx context.Context, in StartRequest) (StartResponse, error) {
	var resp StartResponse
	if err := c.call(ctx, http.MethodPost, "/api/generate-presentation", in, &resp); err != nil {
		return StartResponse{}, err
	}
	return resp, nil
}

func (c *Client) GetPresentation(ctx context.Context, id string) (domain.Presentation, error) {
	var p domain.Presentation
	if err := c.call(ctx, http.MethodGet, "/api/presentations/"+url.PathEscape(id), nil, &p); err != nil {
		return domain.Presentation{}, err
	}
	return p, nil
}

// PresentationMarkdown возвращает экспорт презентации в markdown.
func (c *Client) PresentationMarkdown(ctx context.Context, id string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/presentations/"+url.PathEscape(id)+"/markdown", nil)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := c.doStatus(c.httpClient, req, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c *Client) UpdateSlides(ctx context.Context, id string, slides []domain.Slide) (domain.Presentation, error) {
	var p domain.Presentation
	body := map[string]any{"slides": slides}
	if err := c.call(ctx, http.MethodPut, "/api/presentations/"+url.PathEscape(id)+"/slides", body, &p); err != nil {
		return domain.Presentation{}, err
	}
	return p, nil
}

func (c *Client) DeletePresentation(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/presentations/"+url.PathEscape(id), nil, nil)
}

// WatchPresentation читает поток статусов, пока сервер его не закроет или handle не вернёт false.
func (c *Client) WatchPresentation(ctx context.Context, id string, handle func(domain.Event) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/presentations/"+url.PathEscape(id)+"/stream", nil)
	if err != nil {
		return err
	}
	return c.readEvents(ctx, req, handle)
}

// DraftInput поля нового черновика.
type DraftInput struct {
	Title          string               `json:"title,omitempty"`
	Prompt         string               `json:"prompt,omitempty"`
	EnhancedPrompt string               `json:"enhanced_prompt,omitempty"`
	Outline        domain.Outline       `json:"outline"`
	Research       *domain.ResearchData `json:"research,omitempty"`
}

func (c *Client) CreateDraft(ctx context.Context, in DraftInput) (domain.Draft, error) {
	var d domain.Draft
	if err := c.call(ctx, http.MethodPost, "/api/drafts", in, &d); err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}

func (c *Client) ListDrafts(ctx context.Context, limit int) ([]domain.Draft, error) {
	endpoint := "/api/drafts"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Drafts []domain.Draft `json:"drafts"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Drafts, nil
}

func (c *Client) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	var d domain.Draft
	if err := c.call(ctx, http.MethodGet, "/api/drafts/"+url.PathEscape(id), nil, &d); err != nil {
		return domain.Draft{}, err
	}
	return d, nil
}

// UpdateDraft подходит как generation.SaveFunc для автосохранения.
func (c *Client) UpdateDraft(ctx context.Context, id string, patch domain.DraftPatch) error {
	return c.call(ctx, http.MethodPatch, "/api/drafts/"+url.PathEscape(id), patch, nil)
}

func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/drafts/"+url.PathEscape(id), nil, nil)
}

// EnsureUser создаёт пользователя сессии, если его ещё нет.
func (c *Client) EnsureUser(ctx context.Context, id, email string) (domain.User, bool, error) {
	var resp struct {
		User    domain.User `json:"user"`
		Created bool        `json:"created"`
	}
	body := map[string]string{"user_id": id, "email": email}
	if err := c.call(ctx, http.MethodPost, "/api/users/ensure", body, &resp); err != nil {
		return domain.User{}, false, err
	}
	return resp.User, resp.Created, nil
}

// Health возвращает активные бэкенды сервера.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.call(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	_, err = c.doStatus(c.httpClient, req, out)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	query := ""
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint, query = endpoint[:i], endpoint[i+1:]
	}
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	resolved.RawQuery = query
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	return req, nil
}

// doStatus выполняет запрос и декодирует тело в out. *bytes.Buffer получает тело как есть.
func (c *Client) doStatus(client *http.Client, req *http.Request, out any) (int, error) {
	start := time.Now()
	resp, err := client.Do(req)
	metrics.ObserveNetworkRequest("apiclient", req.Method, "dossier_api", start, err)
	if err != nil {
		return 0, fmt.Errorf("dossier api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, readAPIError(resp)
	}
	if resp.StatusCode == http.StatusPartialContent {
		partial := &PartialOutlineError{}
		if err := json.NewDecoder(resp.Body).Decode(partial); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, partial
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if buf, ok := out.(*bytes.Buffer); ok {
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) readEvents(ctx context.Context, req *http.Request, handle func(domain.Event) bool) error {
	req.Header.Set("Accept", "text/event-stream")
	start := time.Now()
	resp, err := c.stream.Do(req)
	metrics.ObserveNetworkRequest("apiclient", "stream", "dossier_api", start, err)
	if err != nil {
		return fmt.Errorf("dossier api request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	return sse.ReadStream(ctx, resp.Body, sse.NewParser(c.log), handle)
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, readErr := io.ReadAll(resp.Body)
	if readErr == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	if body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
