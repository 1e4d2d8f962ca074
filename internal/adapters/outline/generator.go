package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"dossier-ai/internal/adapters/llm"
	"dossier-ai/internal/domain"
)

// ErrInvalidOutline ответ модели не прошёл проверку структуры плана.
var ErrInvalidOutline = errors.New("outline: invalid outline")

// errParse ответ модели не является JSON.
var errParse = errors.New("outline: response is not JSON")

const (
	defaultTemperature = 0.7
	strictTemperature  = 0.5
	maxTokens          = 4096
	strictSuffix       = "\n\nCRITICAL: return ONLY JSON"
)

// Generator строит план презентации через LLM.
type Generator struct {
	llm domain.LLM
	log zerolog.Logger
}

var _ domain.OutlineGenerator = (*Generator)(nil)

// NewGenerator создаёт генератор плана.
func NewGenerator(model domain.LLM, logger zerolog.Logger) *Generator {
	return &Generator{llm: model, log: logger}
}

// Generate строит план одним блокирующим вызовом. При ошибке разбора JSON
// выполняется ровно одна повторная попытка со строгой инструкцией.
func (g *Generator) Generate(ctx context.Context, prompt string, research domain.ResearchData) (domain.Outline, domain.TokenUsage, error) {
	user := buildUserPrompt(prompt, research)
	res, err := g.llm.Generate(ctx, systemPrompt, user, domain.LLMOptions{
		MaxTokens:   maxTokens,
		Temperature: domain.Temperature(defaultTemperature),
		JSON:        true,
	})
	if err != nil {
		return domain.Outline{}, domain.TokenUsage{}, fmt.Errorf("outline: %w", err)
	}
	outline, err := ParseOutline(res.Content)
	if err == nil || !errors.Is(err, errParse) {
		return outline, res.Usage, err
	}
	return g.retryStrict(ctx, user, res.Usage, err)
}

// GenerateStream строит план потоком. onChunk получает сырой текст модели,
// onSlide каждый завершённый слайд, уже переиндексированный и с проверенным типом.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, research domain.ResearchData, onChunk func(string), onSlide func(domain.OutlineSlide)) (domain.Outline, domain.TokenUsage, error) {
	user := buildUserPrompt(prompt, research)
	scanner := &slideScanner{}
	emitted := 0

	res, err := g.llm.Stream(ctx, systemPrompt, user, domain.LLMOptions{
		MaxTokens:   maxTokens,
		Temperature: domain.Temperature(defaultTemperature),
		JSON:        true,
	}, func(chunk string) error {
		if onChunk != nil {
			onChunk(chunk)
		}
		for _, raw := range scanner.Feed(chunk) {
			if emitted >= domain.MaxOutlineSlides {
				break
			}
			var rs rawSlide
			if err := json.Unmarshal([]byte(raw), &rs); err != nil {
				g.log.Debug().Err(err).Msg("outline: пропускаем неполный слайд в потоке")
				continue
			}
			slide := rs.toSlide(emitted)
			emitted++
			if onSlide != nil {
				onSlide(slide)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Outline{}, domain.TokenUsage{}, fmt.Errorf("outline: %w", err)
	}
	outline, err := ParseOutline(res.Content)
	if err == nil || !errors.Is(err, errParse) {
		return outline, res.Usage, err
	}
	return g.retryStrict(ctx, user, res.Usage, err)
}

func (g *Generator) retryStrict(ctx context.Context, user string, usage domain.TokenUsage, cause error) (domain.Outline, domain.TokenUsage, error) {
	g.log.Warn().Err(cause).Msg("outline: ответ не разобран, повторяем со строгой инструкцией")
	res, err := g.llm.Generate(ctx, systemPrompt+strictSuffix, user, domain.LLMOptions{
		MaxTokens:   maxTokens,
		Temperature: domain.Temperature(strictTemperature),
		JSON:        true,
	})
	if err != nil {
		return domain.Outline{}, usage, fmt.Errorf("outline: %w", err)
	}
	usage = usage.Add(res.Usage)
	outline, err := ParseOutline(res.Content)
	if err != nil {
		return domain.Outline{}, usage, err
	}
	return outline, usage, nil
}

type rawOutline struct {
	Title  string          `json:"title"`
	Slides json.RawMessage `json:"slides"`
}

type rawSlide struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
	Type    string   `json:"type"`
}

func (r rawSlide) toSlide(index int) domain.OutlineSlide {
	bullets := make([]string, 0, len(r.Bullets))
	for _, b := range r.Bullets {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			bullets = append(bullets, trimmed)
		}
	}
	return domain.OutlineSlide{
		Index:   index,
		Title:   strings.TrimSpace(r.Title),
		Bullets: bullets,
		Type:    domain.NormalizeSlideType(strings.ToLower(strings.TrimSpace(r.Type))),
	}
}

// ParseOutline разбирает ответ модели и проверяет план:
// наличие title и slides, не менее 5 слайдов, не более 20 (лишние отбрасываются),
// индексы по позиции, неизвестные типы заменяются на content.
func ParseOutline(content string) (domain.Outline, error) {
	var raw rawOutline
	if err := llm.DecodeJSON(content, &raw); err != nil {
		return domain.Outline{}, fmt.Errorf("%w: %v", errParse, err)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" || len(raw.Slides) == 0 || string(raw.Slides) == "null" {
		return domain.Outline{}, fmt.Errorf("%w: missing title or slides", ErrInvalidOutline)
	}
	var slides []rawSlide
	if err := json.Unmarshal(raw.Slides, &slides); err != nil {
		return domain.Outline{}, fmt.Errorf("%w: slides is not an array", ErrInvalidOutline)
	}
	if len(slides) < domain.MinOutlineSlides {
		return domain.Outline{}, fmt.Errorf("%w: expected at least %d slides, got %d", ErrInvalidOutline, domain.MinOutlineSlides, len(slides))
	}
	if len(slides) > domain.MaxOutlineSlides {
		slides = slides[:domain.MaxOutlineSlides]
	}
	outline := domain.Outline{Title: title, Slides: make([]domain.OutlineSlide, len(slides))}
	for i, s := range slides {
		outline.Slides[i] = s.toSlide(i)
	}
	return outline, nil
}
