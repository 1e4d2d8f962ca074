package slides

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dossier-ai/internal/domain"
)

type stubLLM struct {
	content string
	opts    domain.LLMOptions
}

func (s *stubLLM) Generate(_ context.Context, _, _ string, opts domain.LLMOptions) (domain.LLMResult, error) {
	s.opts = opts
	return domain.LLMResult{Content: s.content, Usage: domain.TokenUsage{TotalTokens: 42}}, nil
}

func (s *stubLLM) Stream(context.Context, string, string, domain.LLMOptions, func(string) error) (domain.LLMResult, error) {
	return domain.LLMResult{}, errors.New("not used")
}

func testOutline() domain.Outline {
	return domain.Outline{Title: "Deck", Slides: []domain.OutlineSlide{
		{Index: 0, Title: "Intro", Bullets: []string{"hello"}, Type: domain.SlideTypeIntro},
		{Index: 1, Title: "Market", Bullets: []string{"size"}, Type: domain.SlideTypeData},
		{Index: 2, Title: "End", Type: domain.SlideTypeConclusion},
	}}
}

func TestGenerateSlidesMergesByIndex(t *testing.T) {
	model := &stubLLM{content: "```json\n" + `{"slides":[
		{"index":1,"title":"Market is $4B","body":"Big market","citations":[0,0,5],"type":"chart"},
		{"index":0,"body":"Welcome","speaker_notes":"smile","visual_hint":"logo"}
	]}` + "\n```"}
	research := &domain.ResearchData{Sources: []domain.Source{
		{Title: "SaaS report", URL: "https://hbr.org/r", Domain: "hbr.org", Date: "March 2024"},
	}}

	slides, usage, err := NewGenerator(model).GenerateSlides(context.Background(), testOutline(), research, domain.CitationMLA)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if model.opts.MaxTokens != 8192 {
		t.Fatalf("ожидали лимит 8192 токена, получили %d", model.opts.MaxTokens)
	}
	if len(slides) != 3 || usage.TotalTokens != 42 {
		t.Fatalf("неожиданный результат: %d слайдов, %+v", len(slides), usage)
	}
	if slides[0].Title != "Intro" || slides[0].Body != "Welcome" || slides[0].SpeakerNotes != "smile" {
		t.Fatalf("слайд 0 собран неверно: %+v", slides[0])
	}
	if slides[1].Title != "Market is $4B" || slides[1].Type != domain.SlideTypeContent {
		t.Fatalf("слайд 1 собран неверно: %+v", slides[1])
	}
	if len(slides[1].Citations) != 1 || slides[1].Citations[0] != `"SaaS report." hbr.org, 2024, https://hbr.org/r.` {
		t.Fatalf("неожиданные ссылки: %v", slides[1].Citations)
	}
	if slides[2].Title != "End" || slides[2].Body != "" || slides[2].Type != domain.SlideTypeConclusion {
		t.Fatalf("пропущенный моделью слайд должен взяться из плана: %+v", slides[2])
	}
}

func TestGenerateSlidesParseError(t *testing.T) {
	_, _, err := NewGenerator(&stubLLM{content: "oops"}).GenerateSlides(context.Background(), testOutline(), nil, domain.CitationAPA)
	if err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
}

func TestFormatCitation(t *testing.T) {
	src := domain.Source{Title: "State of SaaS", URL: "https://www.example.com/s", Domain: "example.com", Date: "2023-05-01"}
	cases := map[domain.CitationStyle]string{
		domain.CitationAPA:     "example.com. (2023). State of SaaS. https://www.example.com/s",
		domain.CitationMLA:     `"State of SaaS." example.com, 2023, https://www.example.com/s.`,
		domain.CitationChicago: `example.com. "State of SaaS." 2023. https://www.example.com/s.`,
	}
	for style, want := range cases {
		if got := FormatCitation(src, style); got != want {
			t.Fatalf("%s: получили %q, ожидали %q", style, got, want)
		}
	}
	if got := FormatCitation(domain.Source{Title: "X", URL: "u"}, domain.CitationAPA); !strings.Contains(got, "(n.d.)") {
		t.Fatalf("без даты ожидали n.d.: %q", got)
	}
}
