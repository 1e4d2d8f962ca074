package sse

import (
	"context"
	"errors"
	"io"

	"dossier-ai/internal/domain"
)

// ReadStream читает поток до EOF и передаёт события в handle. Если handle вернул false,
// чтение прекращается. Используется клиентом API.
func ReadStream(ctx context.Context, r io.Reader, p *Parser, handle func(domain.Event) bool) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range p.Feed(string(buf[:n])) {
				if !handle(ev) {
					return nil
				}
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range p.Flush() {
				if !handle(ev) {
					return nil
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
