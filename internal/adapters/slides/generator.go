package slides

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dossier-ai/internal/adapters/llm"
	"dossier-ai/internal/domain"
)

const (
	maxTokens   = 8192
	temperature = 0.6
)

// Generator пишет тексты слайдов по утверждённому плану.
type Generator struct {
	llm domain.LLM
}

var _ domain.SlideGenerator = (*Generator)(nil)

// NewGenerator создаёт генератор слайдов.
func NewGenerator(model domain.LLM) *Generator {
	return &Generator{llm: model}
}

type slidePayload struct {
	Index        json.Number   `json:"index"`
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	Bullets      []string      `json:"bullets"`
	SpeakerNotes string        `json:"speaker_notes"`
	Citations    []json.Number `json:"citations"`
	VisualHint   string        `json:"visual_hint"`
	Type         string        `json:"type"`
}

type slidesPayload struct {
	Slides []slidePayload `json:"slides"`
}

// GenerateSlides выполняет один вызов модели и накладывает ответ на план по индексу.
// Слайды, пропущенные моделью, берутся из плана без текста.
func (g *Generator) GenerateSlides(ctx context.Context, outline domain.Outline, research *domain.ResearchData, style domain.CitationStyle) ([]domain.Slide, domain.TokenUsage, error) {
	if len(outline.Slides) == 0 {
		return nil, domain.TokenUsage{}, fmt.Errorf("generate slides: %w: пустой план", domain.ErrValidation)
	}
	if !style.Valid() {
		style = domain.CitationAPA
	}
	var sources []domain.Source
	if research != nil {
		sources = research.Sources
	}

	res, err := g.llm.Generate(ctx, systemPrompt, buildUserPrompt(outline, research), domain.LLMOptions{
		MaxTokens:   maxTokens,
		Temperature: domain.Temperature(temperature),
		JSON:        true,
	})
	if err != nil {
		return nil, domain.TokenUsage{}, fmt.Errorf("generate slides: %w", err)
	}
	var parsed slidesPayload
	if err := llm.DecodeJSON(res.Content, &parsed); err != nil {
		return nil, res.Usage, fmt.Errorf("generate slides: %w", err)
	}

	byIndex := make(map[int]slidePayload, len(parsed.Slides))
	for pos, s := range parsed.Slides {
		idx := pos
		if n, err := s.Index.Int64(); err == nil {
			idx = int(n)
		}
		if _, ok := byIndex[idx]; !ok {
			byIndex[idx] = s
		}
	}

	out := make([]domain.Slide, len(outline.Slides))
	for i, base := range outline.Slides {
		slide := domain.Slide{
			Index:   i,
			Title:   base.Title,
			Bullets: base.Bullets,
			Type:    base.Type,
		}
		if p, ok := byIndex[i]; ok {
			if t := strings.TrimSpace(p.Title); t != "" {
				slide.Title = t
			}
			if bullets := nonEmpty(p.Bullets); len(bullets) > 0 {
				slide.Bullets = bullets
			}
			if p.Type != "" {
				slide.Type = domain.NormalizeSlideType(strings.ToLower(p.Type))
			}
			slide.Body = strings.TrimSpace(p.Body)
			slide.SpeakerNotes = strings.TrimSpace(p.SpeakerNotes)
			slide.VisualHint = strings.TrimSpace(p.VisualHint)
			slide.Citations = citationsFor(p.Citations, sources, style)
		}
		if !slide.Type.Valid() {
			slide.Type = domain.SlideTypeContent
		}
		out[i] = slide
	}
	return out, res.Usage, nil
}

func citationsFor(refs []json.Number, sources []domain.Source, style domain.CitationStyle) []string {
	if len(refs) == 0 || len(sources) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(refs))
	var out []string
	for _, ref := range refs {
		idx, err := ref.Int64()
		if err != nil || idx < 0 || int(idx) >= len(sources) {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, FormatCitation(sources[idx], style))
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

const systemPrompt = `You write the final content of presentation slides.
Be concrete, cite numbers from the research when relevant and keep each body under 80 words.
Return ONLY a JSON object, no markdown.`

func buildUserPrompt(outline domain.Outline, research *domain.ResearchData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Presentation: %s\n\nOutline:\n", outline.Title)
	for _, s := range outline.Slides {
		fmt.Fprintf(&b, "%d. [%s] %s\n", s.Index, s.Type, s.Title)
		for _, bullet := range s.Bullets {
			fmt.Fprintf(&b, "   - %s\n", bullet)
		}
	}
	if research != nil && len(research.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, src := range research.Sources {
			fmt.Fprintf(&b, "[%d] %s (%s)\n", i, src.Title, src.Domain)
		}
		if len(research.Findings) > 0 {
			b.WriteString("\nFindings:\n")
			for _, f := range research.Findings {
				fmt.Fprintf(&b, "- %s (%s)\n", f.Stat, f.Source.Domain)
			}
		}
	}
	b.WriteString(`
For every outline slide return an object with the same index.
"citations" lists the numbers of the sources used on the slide.
Respond with JSON:
{"slides":[{"index":0,"title":"...","body":"...","bullets":["..."],"speaker_notes":"...","citations":[0],"visual_hint":"...","type":"intro"}]}`)
	return b.String()
}
