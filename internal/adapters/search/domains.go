package search

import (
	"net/url"
	"strings"

	"dossier-ai/internal/domain"
)

var reputableMarkers = []string{
	".edu",
	".gov",
	".org",
	"hbr.org",
	"mckinsey.com",
	"gartner.com",
	"forbes.com",
	"reuters.com",
	"bloomberg.com",
	"economist.com",
	"wsj.com",
	"nature.com",
	"statista.com",
	"pewresearch.org",
	"deloitte.com",
	"pwc.com",
	"bcg.com",
	"nytimes.com",
}

// ExtractDomain возвращает хост без префикса www. Для некорректного адреса возвращает "unknown".
func ExtractDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// IsReputable проверяет адрес по списку авторитетных доменов.
func IsReputable(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, marker := range reputableMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// PrioritizeReputableDomains ставит авторитетные источники первыми, сохраняя порядок внутри групп.
func PrioritizeReputableDomains(sources []domain.Source) []domain.Source {
	out := make([]domain.Source, 0, len(sources))
	rest := make([]domain.Source, 0, len(sources))
	for _, s := range sources {
		if IsReputable(s.URL) {
			out = append(out, s)
			continue
		}
		rest = append(rest, s)
	}
	return append(out, rest...)
}

// DedupeByURL убирает повторы, оставляя первое вхождение.
func DedupeByURL(sources []domain.Source) []domain.Source {
	seen := make(map[string]struct{}, len(sources))
	out := make([]domain.Source, 0, len(sources))
	for _, s := range sources {
		key := strings.TrimRight(strings.ToLower(s.URL), "/")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
