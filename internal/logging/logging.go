package logging

import (
	"fmt"
	"io"
	"time"

	charmLog "github.com/charmbracelet/log"

	"leadflow/internal/config"
)

// New builds the runtime logger from config. Empty values default to info/text.
func New(w io.Writer, prefix string, cfg config.LoggingConfig) (*charmLog.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := charmLog.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	if w == nil {
		w = io.Discard
	}
	formatter := charmLog.TextFormatter
	switch cfg.Format {
	case "logfmt":
		formatter = charmLog.LogfmtFormatter
	case "json":
		formatter = charmLog.JSONFormatter
	}
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}), nil
}

// OrDefault returns l, or the package default logger when l is nil.
func OrDefault(l *charmLog.Logger) *charmLog.Logger {
	if l != nil {
		return l
	}
	return charmLog.Default()
}

// Discard returns a logger that drops everything.
func Discard() *charmLog.Logger {
	return charmLog.New(io.Discard)
}
