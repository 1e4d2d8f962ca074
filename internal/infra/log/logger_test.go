package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("prod", &buf)
	logger.Debug().Msg("скрыто")
	if buf.Len() != 0 {
		t.Fatalf("debug не должен писаться вне dev")
	}
	api := Component(logger, "api")
	api.Info().Msg("видно")
	if !strings.Contains(buf.String(), `"component":"api"`) {
		t.Fatalf("ожидали поле component, получили %s", buf.String())
	}
}
