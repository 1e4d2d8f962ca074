package outline

import (
	"fmt"
	"strings"

	"dossier-ai/internal/domain"
)

const systemPrompt = `You are a senior presentation strategist. You design slide outlines that tell a clear story backed by evidence.
Return ONLY a JSON object, no markdown and no commentary.`

const titleExamples = `Slide titles must state the insight, not the topic.
GOOD: "Churn drops 32% when onboarding finishes in week one"
BAD: "Customer Retention"`

func buildUserPrompt(prompt string, research domain.ResearchData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\n", prompt)

	if len(research.Findings) > 0 {
		b.WriteString("Research findings:\n")
		for _, f := range research.Findings {
			fmt.Fprintf(&b, "- %s", f.Stat)
			if f.Context != "" {
				fmt.Fprintf(&b, " (%s)", f.Context)
			}
			if f.Source.Domain != "" {
				fmt.Fprintf(&b, " [%s]", f.Source.Domain)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(research.Frameworks) > 0 {
		b.WriteString("Frameworks:\n")
		for _, f := range research.Frameworks {
			fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString(titleExamples)
	fmt.Fprintf(&b, `

Build an outline of %d-12 slides. Start with an intro slide and end with a conclusion slide.
Allowed slide types: intro, content, data, quote, conclusion. Use "data" for slides built on findings.
Respond with JSON:
{"title":"...","slides":[{"title":"...","bullets":["..."],"type":"intro"}]}`, domain.MinOutlineSlides)
	return b.String()
}
