package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

const twoEvents = "data: {\"type\":\"research_query\",\"query\":\"ai market\"}\n\n" +
	"data: {\"type\":\"content_chunk\",\"content\":\"{\\\"title\\\"\"}\n\n"

func feedAll(p *Parser, chunks []string) []domain.Event {
	var out []domain.Event
	for _, c := range chunks {
		out = append(out, p.Feed(c)...)
	}
	return append(out, p.Flush()...)
}

func TestParserChunkSplitInvariance(t *testing.T) {
	want := feedAll(NewParser(zerolog.Nop()), []string{twoEvents})
	if len(want) != 2 {
		t.Fatalf("ожидали 2 события, получили %d", len(want))
	}

	for i := 0; i <= len(twoEvents); i++ {
		for j := i; j <= len(twoEvents); j++ {
			got := feedAll(NewParser(zerolog.Nop()), []string{twoEvents[:i], twoEvents[i:j], twoEvents[j:]})
			if len(got) != len(want) {
				t.Fatalf("разбиение %d/%d: ожидали %d событий, получили %d", i, j, len(want), len(got))
			}
			for k := range want {
				if got[k].Type != want[k].Type || got[k].Query != want[k].Query || got[k].Content != want[k].Content {
					t.Fatalf("разбиение %d/%d: событие %d отличается: %+v", i, j, k, got[k])
				}
			}
		}
	}
}

func TestParserBuffersUntilDelimiter(t *testing.T) {
	p := NewParser(zerolog.Nop())
	if evs := p.Feed("data: {\"type\":\"complete\"}\n"); len(evs) != 0 {
		t.Fatalf("событие без разделителя не должно разбираться")
	}
	evs := p.Feed("\n")
	if len(evs) != 1 || evs[0].Type != domain.EventComplete {
		t.Fatalf("ожидали событие complete, получили %+v", evs)
	}
}

func TestParserDropsMalformedLine(t *testing.T) {
	p := NewParser(zerolog.Nop())
	evs := p.Feed("data: {broken\n\ndata: {\"type\":\"error\",\"message\":\"x\"}\n\n")
	if len(evs) != 1 || evs[0].Type != domain.EventError || evs[0].Message != "x" {
		t.Fatalf("битая строка должна быть пропущена: %+v", evs)
	}
}

func TestParserFlushesTail(t *testing.T) {
	p := NewParser(zerolog.Nop())
	_ = p.Feed("data: {\"type\":\"draft_created\",\"draft_id\":\"d1\"}")
	evs := p.Flush()
	if len(evs) != 1 || evs[0].DraftID != "d1" {
		t.Fatalf("остаток должен разбираться при Flush: %+v", evs)
	}
	if evs := p.Flush(); len(evs) != 0 {
		t.Fatalf("повторный Flush не должен возвращать события")
	}
}

func TestParserIgnoresComments(t *testing.T) {
	p := NewParser(zerolog.Nop())
	if evs := p.Feed(": ping\n\n"); len(evs) != 0 {
		t.Fatalf("комментарий не является событием: %+v", evs)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	_ = w.Send(domain.Event{Type: domain.EventResearchQuery, Query: "q"})
	_ = w.Comment("heartbeat")
	_ = w.Send(domain.Event{Type: domain.EventComplete, DraftID: "d"})

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("неожиданный Content-Type %q", ct)
	}
	var got []domain.Event
	err = ReadStream(context.Background(), strings.NewReader(rec.Body.String()), NewParser(zerolog.Nop()), func(ev domain.Event) bool {
		got = append(got, ev)
		return true
	})
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(got) != 2 || got[0].Query != "q" || got[1].DraftID != "d" {
		t.Fatalf("неожиданные события: %+v", got)
	}
}

func TestReadStreamStopsOnHandlerFalse(t *testing.T) {
	calls := 0
	_ = ReadStream(context.Background(), strings.NewReader(twoEvents), NewParser(zerolog.Nop()), func(domain.Event) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Fatalf("чтение должно остановиться после первого события, вызовов %d", calls)
	}
}
