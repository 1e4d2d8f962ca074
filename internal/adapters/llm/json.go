package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripCodeFences убирает обёртку ```json ... ``` вокруг ответа модели.
func StripCodeFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON распаковывает ответ модели в v после удаления обёртки.
func DecodeJSON(content string, v any) error {
	cleaned := StripCodeFences(content)
	if cleaned == "" {
		return fmt.Errorf("распаковка ответа LLM: пустой ответ")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	return nil
}

// ClipRunes обрезает строку до limit символов.
func ClipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
