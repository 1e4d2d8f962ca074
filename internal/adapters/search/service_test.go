package search

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/brave"
	"dossier-ai/internal/infra/cache"
)

type stubBrave struct {
	configured bool
	calls      int
	responses  []func() ([]brave.WebResult, error)
}

func (s *stubBrave) Configured() bool { return s.configured }

func (s *stubBrave) WebSearch(context.Context, string, int) ([]brave.WebResult, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]()
}

func newTestService(client webSearcher, c Cache, retries int, delays *[]time.Duration) *Service {
	svc := NewService(client, c, Config{Retries: retries}, zerolog.Nop())
	svc.sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return svc
}

func rateLimited(retryAfter time.Duration) func() ([]brave.WebResult, error) {
	return func() ([]brave.WebResult, error) {
		return nil, &brave.StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter}
	}
}

func TestExtractDomain(t *testing.T) {
	cases := map[string]string{
		"not a url":                 "unknown",
		"https://www.example.com/x": "example.com",
		"http://blog.Example.org/a": "blog.example.org",
		"":                          "unknown",
	}
	for in, want := range cases {
		if got := ExtractDomain(in); got != want {
			t.Fatalf("ExtractDomain(%q) = %q, ожидали %q", in, got, want)
		}
	}
}

func TestPrioritizeReputableDomainsStable(t *testing.T) {
	in := []domain.Source{
		{Title: "A", URL: "https://a.com/1"},
		{Title: "B", URL: "https://b.edu/1"},
		{Title: "C", URL: "https://c.com/1"},
		{Title: "D", URL: "https://d.gov/1"},
	}
	out := PrioritizeReputableDomains(in)
	want := []string{"B", "D", "A", "C"}
	for i, title := range want {
		if out[i].Title != title {
			t.Fatalf("позиция %d: получили %s, ожидали %s", i, out[i].Title, title)
		}
	}
}

func TestSearchUnconfiguredReturnsMock(t *testing.T) {
	svc := newTestService(&stubBrave{}, nil, 2, nil)
	results := svc.Search(context.Background(), "B2B SaaS", 5)
	if len(results) != 2 {
		t.Fatalf("ожидали два фиктивных результата, получили %d", len(results))
	}
	if svc.Backend() != "mock" {
		t.Fatalf("ожидали backend mock")
	}
}

func TestSearchFailureAbsorbed(t *testing.T) {
	client := &stubBrave{configured: true, responses: []func() ([]brave.WebResult, error){
		func() ([]brave.WebResult, error) {
			return nil, &brave.StatusError{StatusCode: http.StatusInternalServerError}
		},
	}}
	svc := newTestService(client, nil, 2, nil)
	results := svc.Search(context.Background(), "q", 5)
	if results == nil || len(results) != 0 {
		t.Fatalf("ожидали пустой результат: %v", results)
	}
	if client.calls != 1 {
		t.Fatalf("ошибки кроме 429 не повторяются, вызовов %d", client.calls)
	}
}

func TestSearchRetriesOn429(t *testing.T) {
	client := &stubBrave{configured: true, responses: []func() ([]brave.WebResult, error){
		rateLimited(0),
		rateLimited(5 * time.Second),
		func() ([]brave.WebResult, error) {
			return []brave.WebResult{
				{Title: "x", URL: "https://x.com/a"},
				{Title: "x dup", URL: "https://x.com/a/"},
				{Title: "y", URL: "https://www.y.org/b", PageAge: "2024-01-01"},
			}, nil
		},
	}}
	var delays []time.Duration
	svc := newTestService(client, nil, 2, &delays)

	results := svc.Search(context.Background(), "q", 5)
	if len(results) != 2 {
		t.Fatalf("ожидали два уникальных результата, получили %d", len(results))
	}
	if results[1].Domain != "y.org" || results[1].Date != "2024-01-01" {
		t.Fatalf("неверное преобразование результата: %+v", results[1])
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 5*time.Second {
		t.Fatalf("неожиданные задержки: %v", delays)
	}
}

func TestSearchRetriesExhausted(t *testing.T) {
	client := &stubBrave{configured: true, responses: []func() ([]brave.WebResult, error){rateLimited(0)}}
	var delays []time.Duration
	svc := newTestService(client, nil, 2, &delays)

	results := svc.Search(context.Background(), "q", 5)
	if len(results) != 0 || client.calls != 3 {
		t.Fatalf("ожидали 3 попытки и пустой результат: calls=%d results=%d", client.calls, len(results))
	}
	if delays[1] != 4*time.Second {
		t.Fatalf("ожидали экспоненциальную задержку 4s, получили %v", delays[1])
	}
}

func TestSearchUsesCache(t *testing.T) {
	client := &stubBrave{configured: true, responses: []func() ([]brave.WebResult, error){
		func() ([]brave.WebResult, error) { return []brave.WebResult{{Title: "x", URL: "https://x.com"}}, nil },
		func() ([]brave.WebResult, error) { return nil, errors.New("не должно вызываться") },
	}}
	svc := newTestService(client, cache.NewMemory(8, time.Minute), 0, nil)

	first := svc.Search(context.Background(), "Query", 3)
	second := svc.Search(context.Background(), "query ", 3)
	if client.calls != 1 {
		t.Fatalf("повторный запрос должен браться из кэша, вызовов %d", client.calls)
	}
	if len(first) != 1 || len(second) != 1 || second[0].URL != first[0].URL {
		t.Fatalf("кэш вернул другой результат: %v / %v", first, second)
	}
}
