package slides

import (
	"fmt"
	"regexp"
	"strings"

	"dossier-ai/internal/domain"
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// FormatCitation оформляет источник в выбранном стиле.
func FormatCitation(src domain.Source, style domain.CitationStyle) string {
	title := strings.TrimSpace(src.Title)
	if title == "" {
		title = src.URL
	}
	publisher := strings.TrimSpace(src.Domain)
	if publisher == "" {
		publisher = "unknown"
	}
	year := yearPattern.FindString(src.Date)

	switch style {
	case domain.CitationMLA:
		if year != "" {
			return fmt.Sprintf("\"%s.\" %s, %s, %s.", title, publisher, year, src.URL)
		}
		return fmt.Sprintf("\"%s.\" %s, %s.", title, publisher, src.URL)
	case domain.CitationChicago:
		if year != "" {
			return fmt.Sprintf("%s. \"%s.\" %s. %s.", publisher, title, year, src.URL)
		}
		return fmt.Sprintf("%s. \"%s.\" %s.", publisher, title, src.URL)
	default:
		if year == "" {
			year = "n.d."
		}
		return fmt.Sprintf("%s. (%s). %s. %s", publisher, year, title, src.URL)
	}
}
