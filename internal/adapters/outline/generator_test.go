package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

type llmCall struct {
	system      string
	temperature float64
	stream      bool
}

type stubLLM struct {
	responses []string
	calls     []llmCall
	chunkSize int
}

func (s *stubLLM) next() string {
	idx := len(s.calls) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]
}

func (s *stubLLM) Generate(_ context.Context, system, _ string, opts domain.LLMOptions) (domain.LLMResult, error) {
	s.calls = append(s.calls, llmCall{system: system, temperature: *opts.Temperature})
	return domain.LLMResult{Content: s.next(), Usage: domain.TokenUsage{TotalTokens: 1}}, nil
}

func (s *stubLLM) Stream(_ context.Context, system, _ string, opts domain.LLMOptions, onChunk func(string) error) (domain.LLMResult, error) {
	s.calls = append(s.calls, llmCall{system: system, temperature: *opts.Temperature, stream: true})
	content := s.next()
	size := s.chunkSize
	if size <= 0 {
		size = 7
	}
	for i := 0; i < len(content); i += size {
		end := i + size
		if end > len(content) {
			end = len(content)
		}
		if err := onChunk(content[i:end]); err != nil {
			return domain.LLMResult{}, err
		}
	}
	return domain.LLMResult{Content: content, Usage: domain.TokenUsage{TotalTokens: 1}}, nil
}

func outlineJSON(n int, slideType string) string {
	slides := make([]map[string]any, n)
	for i := range slides {
		slides[i] = map[string]any{
			"index":   100 + i,
			"title":   fmt.Sprintf("Slide %d", i),
			"bullets": []string{"a {b}", "c \"d\""},
			"type":    slideType,
		}
	}
	data, _ := json.Marshal(map[string]any{"title": "Deck", "slides": slides})
	return string(data)
}

func TestParseOutlineTruncatesAndReindexes(t *testing.T) {
	outline, err := ParseOutline(outlineJSON(25, "content"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(outline.Slides) != domain.MaxOutlineSlides {
		t.Fatalf("ожидали %d слайдов, получили %d", domain.MaxOutlineSlides, len(outline.Slides))
	}
	for i, s := range outline.Slides {
		if s.Index != i || s.Title != fmt.Sprintf("Slide %d", i) {
			t.Fatalf("слайд %d: неверный индекс или порядок: %+v", i, s)
		}
	}
}

func TestParseOutlineCoercesType(t *testing.T) {
	outline, err := ParseOutline(outlineJSON(5, "infographic"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, s := range outline.Slides {
		if s.Type != domain.SlideTypeContent {
			t.Fatalf("неизвестный тип должен стать content, получили %q", s.Type)
		}
	}
}

func TestParseOutlineRejects(t *testing.T) {
	cases := map[string]string{
		"нет заголовка": `{"slides":[]}`,
		"нет слайдов":   `{"title":"x"}`,
		"не массив":     `{"title":"x","slides":{"a":1}}`,
		"мало слайдов":  outlineJSON(4, "content"),
		"пустой title":  strings.Replace(outlineJSON(5, "data"), `"title":"Deck"`, `"title":" "`, 1),
	}
	for name, content := range cases {
		if _, err := ParseOutline(content); !errors.Is(err, ErrInvalidOutline) {
			t.Fatalf("%s: ожидали ErrInvalidOutline, получили %v", name, err)
		}
	}
}

func TestGenerateRetriesOnceOnParseFailure(t *testing.T) {
	model := &stubLLM{responses: []string{"Sure! Here is your outline", "```json\n" + outlineJSON(6, "data") + "\n```"}}
	g := NewGenerator(model, zerolog.Nop())

	outline, usage, err := g.Generate(context.Background(), "prompt", domain.ResearchData{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(outline.Slides) != 6 || usage.TotalTokens != 2 {
		t.Fatalf("неожиданный результат: %d слайдов, usage %+v", len(outline.Slides), usage)
	}
	if len(model.calls) != 2 {
		t.Fatalf("ожидали 2 вызова, получили %d", len(model.calls))
	}
	retry := model.calls[1]
	if !strings.HasSuffix(retry.system, "CRITICAL: return ONLY JSON") || retry.temperature != 0.5 {
		t.Fatalf("повтор должен идти со строгой инструкцией и температурой 0.5: %+v", retry)
	}
}

func TestGenerateSecondParseFailureTerminal(t *testing.T) {
	model := &stubLLM{responses: []string{"nope", "still nope"}}
	_, _, err := NewGenerator(model, zerolog.Nop()).Generate(context.Background(), "prompt", domain.ResearchData{})
	if err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if len(model.calls) != 2 {
		t.Fatalf("повтор выполняется ровно один раз, вызовов %d", len(model.calls))
	}
}

func TestGenerateValidationFailureNotRetried(t *testing.T) {
	model := &stubLLM{responses: []string{outlineJSON(3, "content")}}
	_, _, err := NewGenerator(model, zerolog.Nop()).Generate(context.Background(), "prompt", domain.ResearchData{})
	if !errors.Is(err, ErrInvalidOutline) || len(model.calls) != 1 {
		t.Fatalf("ожидали ErrInvalidOutline без повтора: %v, вызовов %d", err, len(model.calls))
	}
}

func TestGenerateStreamEmitsSlides(t *testing.T) {
	for _, size := range []int{1, 3, 7, 1000} {
		model := &stubLLM{responses: []string{"```json\n" + outlineJSON(22, "weird") + "\n```"}, chunkSize: size}
		var chunks strings.Builder
		var slides []domain.OutlineSlide
		outline, _, err := NewGenerator(model, zerolog.Nop()).GenerateStream(context.Background(), "prompt", domain.ResearchData{},
			func(c string) { chunks.WriteString(c) },
			func(s domain.OutlineSlide) { slides = append(slides, s) },
		)
		if err != nil {
			t.Fatalf("размер %d: не ожидали ошибку: %v", size, err)
		}
		if len(slides) != domain.MaxOutlineSlides || len(outline.Slides) != domain.MaxOutlineSlides {
			t.Fatalf("размер %d: ожидали 20 слайдов, поток %d, итог %d", size, len(slides), len(outline.Slides))
		}
		for i, s := range slides {
			if s.Index != i || s.Type != domain.SlideTypeContent || len(s.Bullets) != 2 {
				t.Fatalf("размер %d: неверный слайд %d: %+v", size, i, s)
			}
		}
		if !strings.Contains(chunks.String(), `"title":"Deck"`) {
			t.Fatalf("размер %d: сырые фрагменты должны передаваться полностью", size)
		}
	}
}

func TestSlideScannerIgnoresOtherArrays(t *testing.T) {
	s := &slideScanner{}
	got := s.Feed(`{"tags":[{"x":1}],"title":"slides","slides":[{"title":"a"},{"title":"b","n":{"k":[1]}}],"extra":[{"y":2}]}`)
	if len(got) != 2 || got[0] != `{"title":"a"}` {
		t.Fatalf("неожиданные объекты: %v", got)
	}
}
