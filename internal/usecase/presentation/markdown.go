package presentation

import (
	"fmt"
	"strings"

	"dossier-ai/internal/domain"
)

// FormatMarkdown формирует markdown-версию презентации для экспорта.
func FormatMarkdown(p domain.Presentation) string {
	var sections []string

	if title := strings.TrimSpace(p.Title); title != "" {
		sections = append(sections, "# "+title)
	}

	slides := p.Slides
	if len(slides) == 0 {
		slides = outlineAsSlides(p.Outline)
	}
	for i, sl := range slides {
		if section := formatSlide(i+1, sl); section != "" {
			sections = append(sections, section)
		}
	}

	if refs := collectCitations(slides); len(refs) > 0 {
		var b strings.Builder
		b.WriteString("## Sources\n")
		for _, ref := range refs {
			b.WriteString("\n- " + ref)
		}
		sections = append(sections, b.String())
	}

	return strings.TrimSpace(strings.Join(sections, "\n\n---\n\n")) + "\n"
}

func formatSlide(n int, sl domain.Slide) string {
	var b strings.Builder
	title := strings.TrimSpace(sl.Title)
	if title == "" {
		title = fmt.Sprintf("Slide %d", n)
	}
	fmt.Fprintf(&b, "## %d. %s", n, title)

	if body := strings.TrimSpace(sl.Body); body != "" {
		b.WriteString("\n\n" + body)
	}
	if bullets := filterNonEmptyStrings(sl.Bullets); len(bullets) > 0 {
		b.WriteString("\n")
		for _, bullet := range bullets {
			b.WriteString("\n- " + bullet)
		}
	}
	if hint := strings.TrimSpace(sl.VisualHint); hint != "" {
		b.WriteString("\n\n_Visual: " + hint + "_")
	}
	if sl.ImageURL != "" {
		fmt.Fprintf(&b, "\n\n![%s](%s)", title, sl.ImageURL)
	}
	if notes := strings.TrimSpace(sl.SpeakerNotes); notes != "" {
		for _, line := range strings.Split(notes, "\n") {
			b.WriteString("\n\n> " + strings.TrimSpace(line))
		}
	}
	return b.String()
}

func outlineAsSlides(o domain.Outline) []domain.Slide {
	out := make([]domain.Slide, 0, len(o.Slides))
	for _, sl := range o.Slides {
		out = append(out, domain.Slide{Index: sl.Index, Title: sl.Title, Bullets: sl.Bullets, Type: sl.Type})
	}
	return out
}

func collectCitations(slides []domain.Slide) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sl := range slides {
		for _, c := range filterNonEmptyStrings(sl.Citations) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func filterNonEmptyStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
