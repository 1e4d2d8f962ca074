package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"dossier-ai/internal/adapters/llm"
	"dossier-ai/internal/adapters/search"
	"dossier-ai/internal/domain"
)

const (
	maxSources      = 10
	resultsPerQuery = 5
	queryBaseLimit  = 120
)

// Aggregator собирает источники поиском и выделяет из них факты через LLM.
type Aggregator struct {
	searcher domain.Searcher
	llm      domain.LLM
	log      zerolog.Logger
}

var _ domain.Researcher = (*Aggregator)(nil)

// NewAggregator создаёт агрегатор исследования.
func NewAggregator(searcher domain.Searcher, model domain.LLM, logger zerolog.Logger) *Aggregator {
	return &Aggregator{searcher: searcher, llm: model, log: logger}
}

// BuildQueries формирует поисковые запросы по запросу пользователя.
func BuildQueries(prompt string) []string {
	base := llm.ClipRunes(strings.Join(strings.Fields(prompt), " "), queryBaseLimit)
	if base == "" {
		return nil
	}
	return []string{
		base,
		base + " statistics data",
		base + " frameworks best practices",
	}
}

type findingPayload struct {
	Stat        string      `json:"stat"`
	Context     string      `json:"context"`
	SourceIndex json.Number `json:"source_index"`
}

type frameworkPayload struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SourceIndex json.Number `json:"source_index"`
}

type researchPayload struct {
	Findings   []findingPayload   `json:"findings"`
	Frameworks []frameworkPayload `json:"frameworks"`
}

// ConductResearch выполняет запросы последовательно и структурирует результаты.
func (a *Aggregator) ConductResearch(ctx context.Context, prompt string, hooks domain.ResearchHooks) (domain.ResearchData, domain.TokenUsage, error) {
	queries := BuildQueries(prompt)
	if len(queries) == 0 {
		return domain.ResearchData{}, domain.TokenUsage{}, fmt.Errorf("research: %w: пустой запрос", domain.ErrValidation)
	}

	var collected []domain.Source
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return domain.ResearchData{}, domain.TokenUsage{}, err
		}
		if hooks.OnQuery != nil {
			hooks.OnQuery(q)
		}
		results := a.searcher.Search(ctx, q, resultsPerQuery)
		for _, src := range results {
			if src.Domain == "" {
				src.Domain = search.ExtractDomain(src.URL)
			}
			collected = append(collected, src)
		}
	}

	sources := search.PrioritizeReputableDomains(search.DedupeByURL(collected))
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	for _, src := range sources {
		if hooks.OnSource != nil {
			hooks.OnSource(src)
		}
	}
	a.log.Debug().Int("sources", len(sources)).Msg("research: источники собраны")

	data := domain.ResearchData{
		Queries:    queries,
		Sources:    sources,
		Findings:   []domain.ResearchFinding{},
		Frameworks: []domain.Framework{},
	}
	if len(sources) == 0 {
		return data, domain.TokenUsage{}, nil
	}

	res, err := a.llm.Generate(ctx, systemPrompt, userPrompt(prompt, sources), domain.LLMOptions{
		MaxTokens:   4096,
		Temperature: domain.Temperature(0.3),
		JSON:        true,
	})
	if err != nil {
		return domain.ResearchData{}, domain.TokenUsage{}, fmt.Errorf("research: %w", err)
	}

	var parsed researchPayload
	if err := llm.DecodeJSON(res.Content, &parsed); err != nil {
		return domain.ResearchData{}, res.Usage, fmt.Errorf("research: %w", err)
	}

	for _, f := range parsed.Findings {
		stat := strings.TrimSpace(f.Stat)
		if stat == "" {
			continue
		}
		src, ok := sourceAt(sources, f.SourceIndex)
		if !ok {
			continue
		}
		data.Findings = append(data.Findings, domain.ResearchFinding{
			Stat:    stat,
			Context: strings.TrimSpace(f.Context),
			Source:  src,
		})
	}
	for _, f := range parsed.Frameworks {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		fw := domain.Framework{Name: name, Description: strings.TrimSpace(f.Description)}
		if src, ok := sourceAt(sources, f.SourceIndex); ok {
			fw.Source = &src
		}
		data.Frameworks = append(data.Frameworks, fw)
	}
	return data, res.Usage, nil
}

func sourceAt(sources []domain.Source, raw json.Number) (domain.Source, bool) {
	idx, err := raw.Int64()
	if err != nil || idx < 0 || int(idx) >= len(sources) {
		return domain.Source{}, false
	}
	return sources[idx], true
}

const systemPrompt = `You are a research analyst preparing material for a business presentation.
Use only facts present in the provided sources. Never invent numbers.
Return ONLY valid JSON without markdown fences.`

func userPrompt(prompt string, sources []domain.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nSources:\n", prompt)
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i, src.Title, src.Domain)
		if src.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", llm.ClipRunes(src.Snippet, 600))
		}
	}
	b.WriteString(`
Extract 3-8 concrete findings (statistics, numbers, dated facts) and 1-4 frameworks or methodologies.
Always reference the source by its number in "source_index".
Respond with JSON:
{"findings":[{"stat":"...","context":"...","source_index":0}],"frameworks":[{"name":"...","description":"...","source_index":1}]}`)
	return b.String()
}
