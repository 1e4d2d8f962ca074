package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dossier-ai/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("не удалось создать клиента: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("ожидали ошибку для пустого адреса")
	}
}

func TestAuthHeaders(t *testing.T) {
	var gotAuth, gotUser string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get("X-User-ID")
		fmt.Fprint(w, `{"status":"ok","store":"memory"}`)
	}, WithToken("tok"), WithDevUser("u1"))

	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if health["store"] != "memory" {
		t.Fatalf("неожиданный ответ: %v", health)
	}
	if gotAuth != "Bearer tok" || gotUser != "u1" {
		t.Fatalf("заголовки не переданы: %q %q", gotAuth, gotUser)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		target error
	}{
		{http.StatusBadRequest, domain.ErrValidation},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrForbidden},
		{http.StatusNotFound, domain.ErrNotFound},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, `{"error":"nope"}`)
		})
		_, err := c.GetDraft(context.Background(), "d1")
		if !errors.Is(err, tc.target) {
			t.Fatalf("статус %d: ожидали %v, получили %v", tc.status, tc.target, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "nope" {
			t.Fatalf("статус %d: нет текста ошибки: %v", tc.status, err)
		}
	}
}

func TestGenerateOutlinePartial(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, `{"research":{"queries":["q"],"sources":[{"title":"S","url":"https://a.com","domain":"a.com"}]},"error":"bad json"}`)
	})
	_, err := c.GenerateOutline(context.Background(), OutlineRequest{EnhancedPrompt: "pitch deck for seed"})
	var partial *PartialOutlineError
	if !errors.As(err, &partial) {
		t.Fatalf("ожидали PartialOutlineError, получили %v", err)
	}
	if len(partial.Research.Sources) != 1 || partial.Message != "bad json" {
		t.Fatalf("неожиданный частичный ответ: %+v", partial)
	}
}

func TestStreamOutlineSplitsEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate-outline-stream" {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		io.WriteString(w, "data: {\"type\":\"preprocessing\",\"status\":\"start\"}\n\n: heartbeat\n\ndata: {\"type\":\"research_qu")
		flusher.Flush()
		io.WriteString(w, "ery\",\"query\":\"q1\"}\n\ndata: {\"type\":\"complete\"}")
	})

	var got []domain.EventType
	err := c.StreamOutline(context.Background(), OutlineRequest{EnhancedPrompt: "pitch deck for seed"}, func(ev domain.Event) bool {
		got = append(got, ev.Type)
		return true
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []domain.EventType{domain.EventPreprocessing, domain.EventResearchQuery, domain.EventComplete}
	if len(got) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, got)
		}
	}
}

func TestStreamErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"запрос короче 10 символов"}`)
	})
	err := c.StreamOutline(context.Background(), OutlineRequest{EnhancedPrompt: "hi"}, func(domain.Event) bool { return true })
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
}

func TestListDraftsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/drafts" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("неожиданный запрос %s", r.URL.String())
		}
		fmt.Fprint(w, `{"drafts":[{"id":"d1","title":"T"}]}`)
	})
	list, err := c.ListDrafts(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(list) != 1 || list[0].ID != "d1" {
		t.Fatalf("неожиданный список: %+v", list)
	}
}

func TestDeleteNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("ожидали DELETE, получили %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.DeleteDraft(context.Background(), "d1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestPresentationMarkdown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, "# Title\n")
	})
	md, err := c.PresentationMarkdown(context.Background(), "p1")
	if err != nil || md != "# Title\n" {
		t.Fatalf("неожиданный markdown %q, %v", md, err)
	}
}
