package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"invalid", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NewLogger(tt.in).GetLevel(); got != tt.want {
				t.Errorf("NewLogger(%q) level = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Str("stage", "ou").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"stage":"ou"`) || !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %s", out)
	}
}
