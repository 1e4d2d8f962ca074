package enhancer

import (
	"context"
	"fmt"
	"strings"

	"dossier-ai/internal/adapters/llm"
	"dossier-ai/internal/domain"
)

const systemPrompt = `You rewrite short presentation requests into a precise brief.
Keep the user's intent, audience and language. Add the likely audience, goal and the key questions the deck must answer.
Answer with the rewritten brief only, in at most 120 words.`

// Enhancer уточняет запрос пользователя перед исследованием.
type Enhancer struct {
	llm domain.LLM
}

var _ domain.PromptEnhancer = (*Enhancer)(nil)

// New создаёт Enhancer.
func New(model domain.LLM) *Enhancer {
	return &Enhancer{llm: model}
}

// Enhance возвращает уточнённый запрос.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (string, domain.TokenUsage, error) {
	prompt = strings.TrimSpace(prompt)
	res, err := e.llm.Generate(ctx, systemPrompt, prompt, domain.LLMOptions{
		MaxTokens:   512,
		Temperature: domain.Temperature(0.4),
	})
	if err != nil {
		return "", domain.TokenUsage{}, fmt.Errorf("enhance prompt: %w", err)
	}
	enhanced := strings.Trim(llm.StripCodeFences(res.Content), "\" \n")
	if enhanced == "" {
		return "", res.Usage, fmt.Errorf("enhance prompt: пустой ответ")
	}
	return enhanced, res.Usage, nil
}
