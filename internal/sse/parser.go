// Package sse кодирует и разбирает события потока text/event-stream.
package sse

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
)

const (
	eventDelimiter = "\n\n"
	dataPrefix     = "data:"
)

// Parser инкрементально разбирает поток событий. Разбирается только текст до последнего
// полного разделителя, остаток ждёт следующего фрагмента или Flush.
type Parser struct {
	buf strings.Builder
	log zerolog.Logger
}

// NewParser создаёт парсер.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{log: logger}
}

// Feed добавляет фрагмент и возвращает события, ставшие полными.
func (p *Parser) Feed(chunk string) []domain.Event {
	if chunk == "" {
		return nil
	}
	p.buf.WriteString(chunk)
	data := p.buf.String()
	idx := strings.LastIndex(data, eventDelimiter)
	if idx < 0 {
		return nil
	}
	complete := data[:idx+len(eventDelimiter)]
	rest := data[idx+len(eventDelimiter):]
	p.buf.Reset()
	p.buf.WriteString(rest)
	return p.scan(complete)
}

// Flush разбирает остаток буфера. Вызывается один раз, когда чтение завершилось.
func (p *Parser) Flush() []domain.Event {
	rest := p.buf.String()
	p.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return p.scan(rest)
}

func (p *Parser) scan(text string) []domain.Event {
	var events []domain.Event
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(strings.TrimPrefix(line, dataPrefix), " ")
		if payload == "" {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			p.log.Warn().Err(err).Str("line", clip(payload, 200)).Msg("sse: не удалось разобрать событие, пропускаем")
			continue
		}
		if ev.Type == "" {
			p.log.Warn().Str("line", clip(payload, 200)).Msg("sse: событие без типа, пропускаем")
			continue
		}
		events = append(events, ev)
	}
	return events
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
