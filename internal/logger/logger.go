package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Pretty bool   `json:"pretty" yaml:"pretty"` // console output for terminals
	Output string `json:"output" yaml:"output"` // stdout (default) or stderr
	// File, when set, receives the log in addition to stdout and is rotated
	// by size.
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a structured logger writing to stdout or stderr and
// optionally to a rotating file.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Output == "stderr" {
		return build(cfg, os.Stderr)
	}
	return build(cfg, os.Stdout)
}

func build(cfg Config, stdout io.Writer) zerolog.Logger {
	out := stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: stdout, TimeFormat: "15:04:05"}
	}
	if cfg.File != "" {
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  size,
			MaxAge:   cfg.MaxAgeDays,
			Compress: true,
		})
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger sets the package-level logger.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
