package util

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger 创建 zerolog 日志器，无法识别的级别回退到 info
func NewLogger(level string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// NewConsoleLogger writes human-readable lines, used by the CLI when stdout is a terminal.
func NewConsoleLogger(level string) zerolog.Logger {
	return NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, level)
}
